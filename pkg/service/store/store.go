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

// Package store keeps the files that make up a worker service: its source
// file, its unit file and the backups of earlier sources. Paths are derived
// from the service name only.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/workerplane/pkg/apierrors"
	"github.com/united-manufacturing-hub/workerplane/pkg/constants"
	"github.com/united-manufacturing-hub/workerplane/pkg/logger"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/filesystem"
)

// Store is the repository of service records.
type Store interface {
	SourcePath(name string) string
	UnitPath(name string) string
	BackupPath(name string) string

	// PutSource writes code to the source path, creating directories as needed.
	PutSource(ctx context.Context, name, code string) error
	// BackupSource copies the current source aside. It reports false when there was nothing to back up.
	BackupSource(ctx context.Context, name string) (bool, error)
	// PutUnit stages text and moves it into the unit directory.
	PutUnit(ctx context.Context, name, text string) error
	// RemoveUnit deletes the unit file and reports whether it existed.
	RemoveUnit(ctx context.Context, name string) (bool, error)
	// RemoveSource deletes the source file and reports whether it existed.
	RemoveSource(ctx context.Context, name string) (bool, error)

	ReadUnit(ctx context.Context, name string) (string, error)
	ReadSource(ctx context.Context, name string) (string, error)
	UnitExists(ctx context.Context, name string) (bool, error)
	SourceExists(ctx context.Context, name string) (bool, error)

	// ListKnownServices returns the sorted names that have a unit file.
	ListKnownServices(ctx context.Context) ([]string, error)
}

// Config holds the directories and naming of a FileStore.
type Config struct {
	Prefix     string
	SourceDir  string
	UnitDir    string
	StagingDir string
	SourceExt  string
	// MaxBackups is the number of earlier sources kept. One keeps the single
	// overwritten .backup file.
	MaxBackups int
}

// FileStore is the filesystem-backed Store.
type FileStore struct {
	fs     filesystem.Service
	mover  Mover
	cfg    Config
	logger *zap.SugaredLogger
}

var _ Store = (*FileStore)(nil)

func NewFileStore(fsService filesystem.Service, mover Mover, cfg Config) *FileStore {
	if cfg.Prefix == "" {
		cfg.Prefix = constants.DefaultServicePrefix
	}

	if cfg.SourceExt == "" {
		cfg.SourceExt = constants.DefaultSourceExt
	}

	if cfg.StagingDir == "" {
		cfg.StagingDir = constants.DefaultStagingDir
	}

	if cfg.MaxBackups < 1 {
		cfg.MaxBackups = constants.DefaultMaxBackups
	}

	return &FileStore{
		fs:     fsService,
		mover:  mover,
		cfg:    cfg,
		logger: logger.For(logger.ComponentStore),
	}
}

func (s *FileStore) SourcePath(name string) string {
	return filepath.Join(s.cfg.SourceDir, name+s.cfg.SourceExt)
}

func (s *FileStore) UnitPath(name string) string {
	return filepath.Join(s.cfg.UnitDir, name+constants.UnitSuffix)
}

func (s *FileStore) BackupPath(name string) string {
	return s.SourcePath(name) + constants.BackupSuffix
}

func (s *FileStore) stagingPath(name string) string {
	return filepath.Join(s.cfg.StagingDir, name+constants.UnitSuffix)
}

// BackupPaths returns every backup path of name, newest first.
func (s *FileStore) BackupPaths(name string) []string {
	paths := []string{s.BackupPath(name)}
	for i := 1; i < s.cfg.MaxBackups; i++ {
		paths = append(paths, s.BackupPath(name)+"."+strconv.Itoa(i))
	}

	return paths
}

func (s *FileStore) PutSource(ctx context.Context, name, code string) error {
	path := s.SourcePath(name)
	if err := s.fs.WriteFile(ctx, path, []byte(code), 0o644); err != nil {
		return apierrors.OS("putSource", err)
	}

	s.logger.Debugf("wrote %d bytes to %s", len(code), path)

	return nil
}

func (s *FileStore) BackupSource(ctx context.Context, name string) (bool, error) {
	src := s.SourcePath(name)

	exists, err := s.fs.PathExists(ctx, src)
	if err != nil {
		return false, apierrors.OS("backupSource", err)
	}

	if !exists {
		return false, nil
	}

	backups := s.BackupPaths(name)

	// Shift older backups down, dropping the oldest.
	if err := s.fs.Remove(ctx, backups[len(backups)-1]); err != nil {
		return false, apierrors.OS("backupSource", err)
	}

	for i := len(backups) - 1; i > 0; i-- {
		present, err := s.fs.PathExists(ctx, backups[i-1])
		if err != nil {
			return false, apierrors.OS("backupSource", err)
		}

		if !present {
			continue
		}

		if err := s.fs.Rename(ctx, backups[i-1], backups[i]); err != nil {
			return false, apierrors.OS("backupSource", err)
		}
	}

	if err := s.fs.CopyFile(ctx, src, backups[0]); err != nil {
		return false, apierrors.OS("backupSource", err)
	}

	return true, nil
}

func (s *FileStore) PutUnit(ctx context.Context, name, text string) error {
	staged := s.stagingPath(name)

	if err := s.fs.WriteFile(ctx, staged, []byte(text), 0o644); err != nil {
		return apierrors.OS("putUnit", err)
	}

	if err := s.mover.Move(ctx, staged, s.UnitPath(name)); err != nil {
		if rmErr := s.fs.Remove(ctx, staged); rmErr != nil {
			s.logger.Warnf("failed to clean up staged unit %s: %s", staged, rmErr)
		}

		return fmt.Errorf("putUnit %s: %w", name, err)
	}

	return nil
}

func (s *FileStore) RemoveUnit(ctx context.Context, name string) (bool, error) {
	path := s.UnitPath(name)

	exists, err := s.fs.PathExists(ctx, path)
	if err != nil {
		return false, apierrors.OS("removeUnit", err)
	}

	if !exists {
		return false, nil
	}

	if err := s.mover.Remove(ctx, path); err != nil {
		return true, err
	}

	return true, nil
}

func (s *FileStore) RemoveSource(ctx context.Context, name string) (bool, error) {
	path := s.SourcePath(name)

	exists, err := s.fs.PathExists(ctx, path)
	if err != nil {
		return false, apierrors.OS("removeSource", err)
	}

	if !exists {
		return false, nil
	}

	if err := s.fs.Remove(ctx, path); err != nil {
		return true, apierrors.OS("removeSource", err)
	}

	return true, nil
}

func (s *FileStore) read(ctx context.Context, op, path string) (string, error) {
	data, err := s.fs.ReadFile(ctx, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", apierrors.NotFound(op, "%s does not exist", path)
		}

		return "", apierrors.OS(op, err)
	}

	return string(data), nil
}

func (s *FileStore) ReadUnit(ctx context.Context, name string) (string, error) {
	return s.read(ctx, "readUnit", s.UnitPath(name))
}

func (s *FileStore) ReadSource(ctx context.Context, name string) (string, error) {
	return s.read(ctx, "readSource", s.SourcePath(name))
}

func (s *FileStore) UnitExists(ctx context.Context, name string) (bool, error) {
	return s.fs.PathExists(ctx, s.UnitPath(name))
}

func (s *FileStore) SourceExists(ctx context.Context, name string) (bool, error) {
	return s.fs.PathExists(ctx, s.SourcePath(name))
}

func (s *FileStore) ListKnownServices(ctx context.Context) ([]string, error) {
	matches, err := s.fs.Glob(ctx, filepath.Join(s.cfg.UnitDir, s.cfg.Prefix+"*"+constants.UnitSuffix))
	if err != nil {
		return nil, apierrors.OS("listKnownServices", err)
	}

	names := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), constants.UnitSuffix)
		if len(name) > len(s.cfg.Prefix) {
			names = append(names, name)
		}
	}

	sort.Strings(names)

	return names, nil
}
