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

package store_test

import (
	"context"
	"errors"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/workerplane/pkg/apierrors"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/command"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/filesystem"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/store"
)

var cfg = store.Config{
	Prefix:     "worker-",
	SourceDir:  "/home/ubuntu/workers",
	UnitDir:    "/etc/systemd/system",
	StagingDir: "/tmp",
	SourceExt:  ".py",
}

func readString(fs filesystem.Service, path string) string {
	data, err := fs.ReadFile(context.Background(), path)
	Expect(err).NotTo(HaveOccurred())

	return string(data)
}

var _ = Describe("FileStore", func() {
	var (
		ctx context.Context
		fs  *filesystem.MockFileSystem
		s   *store.FileStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		fs = filesystem.NewMockFileSystem()
		s = store.NewFileStore(fs, store.NewRenameMover(fs), cfg)
	})

	It("derives paths from the name", func() {
		Expect(s.SourcePath("worker-a")).To(Equal("/home/ubuntu/workers/worker-a.py"))
		Expect(s.UnitPath("worker-a")).To(Equal("/etc/systemd/system/worker-a.service"))
		Expect(s.BackupPath("worker-a")).To(Equal("/home/ubuntu/workers/worker-a.py.backup"))
	})

	It("writes and reads sources", func() {
		Expect(s.PutSource(ctx, "worker-a", "print('hi')")).To(Succeed())

		code, err := s.ReadSource(ctx, "worker-a")
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal("print('hi')"))
	})

	Context("backups", func() {
		It("is a no-op without a source", func() {
			backedUp, err := s.BackupSource(ctx, "worker-a")
			Expect(err).NotTo(HaveOccurred())
			Expect(backedUp).To(BeFalse())
		})

		It("keeps one overwritten backup by default", func() {
			Expect(s.PutSource(ctx, "worker-a", "v1")).To(Succeed())
			_, err := s.BackupSource(ctx, "worker-a")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.PutSource(ctx, "worker-a", "v2")).To(Succeed())
			_, err = s.BackupSource(ctx, "worker-a")
			Expect(err).NotTo(HaveOccurred())

			Expect(readString(fs, s.BackupPath("worker-a"))).To(Equal("v2"))
			exists, err := fs.PathExists(ctx, s.BackupPath("worker-a")+".1")
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		})

		It("keeps a capped history when configured", func() {
			capped := cfg
			capped.MaxBackups = 3
			s = store.NewFileStore(fs, store.NewRenameMover(fs), capped)

			for _, v := range []string{"v1", "v2", "v3", "v4", "v5"} {
				Expect(s.PutSource(ctx, "worker-a", v)).To(Succeed())
				_, err := s.BackupSource(ctx, "worker-a")
				Expect(err).NotTo(HaveOccurred())
			}

			paths := s.BackupPaths("worker-a")
			Expect(paths).To(HaveLen(3))
			Expect(readString(fs, paths[0])).To(Equal("v5"))
			Expect(readString(fs, paths[1])).To(Equal("v4"))
			Expect(readString(fs, paths[2])).To(Equal("v3"))

			exists, err := fs.PathExists(ctx, s.BackupPath("worker-a")+".3")
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		})
	})

	Context("units", func() {
		It("stages and moves the unit into place", func() {
			Expect(s.PutUnit(ctx, "worker-a", "[Unit]\n")).To(Succeed())

			Expect(readString(fs, s.UnitPath("worker-a"))).To(Equal("[Unit]\n"))
			Expect(fs.Calls()).To(Equal([]string{
				"write /tmp/worker-a.service",
				"rename /tmp/worker-a.service -> /etc/systemd/system/worker-a.service",
			}))
		})

		It("removes the staged file when the move fails", func() {
			fs.WithRenameFunc(func(context.Context, string, string) error { return os.ErrPermission })

			err := s.PutUnit(ctx, "worker-a", "[Unit]\n")
			Expect(apierrors.KindOf(err)).To(Equal(apierrors.KindExternal))

			staged, err := fs.PathExists(ctx, "/tmp/worker-a.service")
			Expect(err).NotTo(HaveOccurred())
			Expect(staged).To(BeFalse())
		})

		It("reports a missing unit as not found", func() {
			_, err := s.ReadUnit(ctx, "worker-a")
			Expect(apierrors.KindOf(err)).To(Equal(apierrors.KindNotFound))
		})

		It("lists units inside the namespace only", func() {
			Expect(s.PutUnit(ctx, "worker-b", "")).To(Succeed())
			Expect(s.PutUnit(ctx, "worker-a", "")).To(Succeed())
			Expect(fs.WriteFile(ctx, "/etc/systemd/system/sshd.service", nil, 0o644)).To(Succeed())
			Expect(fs.WriteFile(ctx, "/etc/systemd/system/worker-.service", nil, 0o644)).To(Succeed())

			names, err := s.ListKnownServices(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(names).To(Equal([]string{"worker-a", "worker-b"}))
		})
	})

	Context("removal", func() {
		It("is idempotent", func() {
			Expect(s.PutUnit(ctx, "worker-a", "")).To(Succeed())
			Expect(s.PutSource(ctx, "worker-a", "")).To(Succeed())

			for i, expected := range []bool{true, false} {
				existed, err := s.RemoveUnit(ctx, "worker-a")
				Expect(err).NotTo(HaveOccurred(), "round %d", i)
				Expect(existed).To(Equal(expected))

				existed, err = s.RemoveSource(ctx, "worker-a")
				Expect(err).NotTo(HaveOccurred())
				Expect(existed).To(Equal(expected))
			}
		})

		It("surfaces an OS failure on an existing unit", func() {
			Expect(s.PutUnit(ctx, "worker-a", "")).To(Succeed())
			fs.WithRemoveFunc(func(context.Context, string) error { return os.ErrPermission })

			_, err := s.RemoveUnit(ctx, "worker-a")
			Expect(apierrors.KindOf(err)).To(Equal(apierrors.KindOS))
			Expect(errors.Is(err, os.ErrPermission)).To(BeTrue())
		})
	})
})

var _ = Describe("SudoMover", func() {
	It("escalates moves and removes through sudo", func() {
		ctx := context.Background()
		runner := command.NewFakeRunner().
			On("sudo -n rm -f -- /etc/systemd/system/worker-b.service", command.FakeResponse{ExitCode: 1, Stderr: "rm: cannot remove: Read-only file system"})
		mover := store.NewSudoMover(runner)

		Expect(mover.Move(ctx, "/tmp/worker-a.service", "/etc/systemd/system/worker-a.service")).To(Succeed())
		Expect(mover.Remove(ctx, "/etc/systemd/system/worker-a.service")).To(Succeed())

		err := mover.Remove(ctx, "/etc/systemd/system/worker-b.service")
		Expect(apierrors.KindOf(err)).To(Equal(apierrors.KindOS))
		Expect(apierrors.StderrOf(err)).To(ContainSubstring("Read-only"))

		Expect(runner.Calls()).To(Equal([]string{
			"sudo -n mv -f -- /tmp/worker-a.service /etc/systemd/system/worker-a.service",
			"sudo -n rm -f -- /etc/systemd/system/worker-a.service",
			"sudo -n rm -f -- /etc/systemd/system/worker-b.service",
		}))
	})
})
