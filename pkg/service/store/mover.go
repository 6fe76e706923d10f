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

package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/united-manufacturing-hub/workerplane/pkg/apierrors"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/command"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/filesystem"
)

// Mover places a staged file into the privileged unit directory and removes
// files from it. It is the privilege boundary of the store.
type Mover interface {
	Move(ctx context.Context, src, dst string) error
	Remove(ctx context.Context, path string) error
}

// RenameMover moves files with a plain rename, for processes that own the unit directory.
type RenameMover struct {
	fs filesystem.Service
}

func NewRenameMover(fs filesystem.Service) *RenameMover {
	return &RenameMover{fs: fs}
}

func (m *RenameMover) Move(ctx context.Context, src, dst string) error {
	if err := m.fs.EnsureDirectory(ctx, filepath.Dir(dst)); err != nil {
		return apierrors.OS("move "+dst, err)
	}

	if err := m.fs.Rename(ctx, src, dst); err != nil {
		return apierrors.External("move "+dst, err, err.Error())
	}

	return nil
}

func (m *RenameMover) Remove(ctx context.Context, path string) error {
	if err := m.fs.Remove(ctx, path); err != nil {
		return apierrors.OS("remove "+path, err)
	}

	return nil
}

// SudoMover escalates through "sudo -n mv" and "sudo -n rm".
type SudoMover struct {
	runner command.Runner
}

func NewSudoMover(runner command.Runner) *SudoMover {
	return &SudoMover{runner: runner}
}

func (m *SudoMover) Move(ctx context.Context, src, dst string) error {
	_, err := m.runner.Run(ctx, command.Command{Name: "sudo", Args: []string{"-n", "mv", "-f", "--", src, dst}})
	if err != nil {
		return fmt.Errorf("failed to move %s into place: %w", dst, err)
	}

	return nil
}

// Remove uses rm -f, so a missing file is not an error.
func (m *SudoMover) Remove(ctx context.Context, path string) error {
	res, err := m.runner.Run(ctx, command.Command{Name: "sudo", Args: []string{"-n", "rm", "-f", "--", path}})
	if err != nil {
		if apierrors.KindOf(err) == apierrors.KindExternal {
			return &apierrors.Error{Kind: apierrors.KindOS, Op: "remove " + path, Stderr: res.Stderr, Err: err}
		}

		return err
	}

	return nil
}
