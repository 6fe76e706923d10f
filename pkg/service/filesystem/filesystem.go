// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// DefaultService implements Service on top of an afero filesystem.
type DefaultService struct {
	fs afero.Fs
}

// NewDefaultService returns a Service backed by the host filesystem.
func NewDefaultService() *DefaultService {
	return &DefaultService{fs: afero.NewOsFs()}
}

// NewMemoryService returns a Service backed by an empty in-memory filesystem.
func NewMemoryService() *DefaultService {
	return &DefaultService{fs: afero.NewMemMapFs()}
}

// NewService wraps an arbitrary afero filesystem.
func NewService(fsys afero.Fs) *DefaultService {
	return &DefaultService{fs: fsys}
}

// Fs exposes the underlying afero filesystem.
func (s *DefaultService) Fs() afero.Fs {
	return s.fs
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (s *DefaultService) EnsureDirectory(ctx context.Context, path string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	if err := s.fs.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	return nil
}

func (s *DefaultService) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	return afero.ReadFile(s.fs, path)
}

func (s *DefaultService) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	if err := s.EnsureDirectory(ctx, filepath.Dir(path)); err != nil {
		return err
	}

	return afero.WriteFile(s.fs, path, data, perm)
}

func (s *DefaultService) PathExists(ctx context.Context, path string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}

	return afero.Exists(s.fs, path)
}

func (s *DefaultService) Remove(ctx context.Context, path string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	err := s.fs.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

func (s *DefaultService) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	return s.fs.Rename(oldPath, newPath)
}

func (s *DefaultService) CopyFile(ctx context.Context, src, dst string) error {
	data, err := s.ReadFile(ctx, src)
	if err != nil {
		return err
	}

	perm := os.FileMode(0o644)
	if info, statErr := s.fs.Stat(src); statErr == nil {
		perm = info.Mode().Perm()
	}

	return s.WriteFile(ctx, dst, data, perm)
}

func (s *DefaultService) Glob(ctx context.Context, pattern string) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	return afero.Glob(s.fs, pattern)
}
