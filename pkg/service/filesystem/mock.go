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
	"os"
	"sync"
)

// MockFileSystem is an in-memory Service whose operations can be overridden
// one by one to inject failures.
type MockFileSystem struct {
	*DefaultService

	WriteFileFunc func(ctx context.Context, path string, data []byte, perm os.FileMode) error
	RemoveFunc    func(ctx context.Context, path string) error
	RenameFunc    func(ctx context.Context, oldPath, newPath string) error
	ReadFileFunc  func(ctx context.Context, path string) ([]byte, error)

	mu    sync.Mutex
	calls []string
}

// NewMockFileSystem creates a MockFileSystem backed by an empty in-memory filesystem.
func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{DefaultService: NewMemoryService()}
}

func (m *MockFileSystem) record(op, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, op+" "+path)
}

// Calls returns the recorded mutating operations in order.
func (m *MockFileSystem) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.calls...)
}

func (m *MockFileSystem) WithWriteFileFunc(fn func(ctx context.Context, path string, data []byte, perm os.FileMode) error) *MockFileSystem {
	m.WriteFileFunc = fn

	return m
}

func (m *MockFileSystem) WithRemoveFunc(fn func(ctx context.Context, path string) error) *MockFileSystem {
	m.RemoveFunc = fn

	return m
}

func (m *MockFileSystem) WithRenameFunc(fn func(ctx context.Context, oldPath, newPath string) error) *MockFileSystem {
	m.RenameFunc = fn

	return m
}

func (m *MockFileSystem) WithReadFileFunc(fn func(ctx context.Context, path string) ([]byte, error)) *MockFileSystem {
	m.ReadFileFunc = fn

	return m
}

func (m *MockFileSystem) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if m.ReadFileFunc != nil {
		return m.ReadFileFunc(ctx, path)
	}

	return m.DefaultService.ReadFile(ctx, path)
}

func (m *MockFileSystem) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	m.record("write", path)

	if m.WriteFileFunc != nil {
		return m.WriteFileFunc(ctx, path, data, perm)
	}

	return m.DefaultService.WriteFile(ctx, path, data, perm)
}

func (m *MockFileSystem) Remove(ctx context.Context, path string) error {
	m.record("remove", path)

	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, path)
	}

	return m.DefaultService.Remove(ctx, path)
}

func (m *MockFileSystem) Rename(ctx context.Context, oldPath, newPath string) error {
	m.record("rename", oldPath+" -> "+newPath)

	if m.RenameFunc != nil {
		return m.RenameFunc(ctx, oldPath, newPath)
	}

	return m.DefaultService.Rename(ctx, oldPath, newPath)
}

func (m *MockFileSystem) CopyFile(ctx context.Context, src, dst string) error {
	data, err := m.ReadFile(ctx, src)
	if err != nil {
		return err
	}

	return m.WriteFile(ctx, dst, data, 0o644)
}
