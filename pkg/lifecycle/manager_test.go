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

package lifecycle_test

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/workerplane/pkg/apierrors"
	"github.com/united-manufacturing-hub/workerplane/pkg/lifecycle"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/filesystem"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/store"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/systemd"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/unit"
)

const (
	sourceDir = "/home/ubuntu/workers"
	unitDir   = "/etc/systemd/system"
)

// panickingSupervisor blows up on status queries.
type panickingSupervisor struct {
	*systemd.FakeSupervisor
}

func (p panickingSupervisor) Status(ctx context.Context, name string) (systemd.StatusReport, error) {
	panic("status parser exploded")
}

func portPtr(p int) *int {
	return &p
}

var _ = Describe("Manager", func() {
	var (
		ctx context.Context
		fs  *filesystem.MockFileSystem
		st  *store.FileStore
		sup *systemd.FakeSupervisor
		m   *lifecycle.Manager
	)

	newManager := func(s systemd.Supervisor) *lifecycle.Manager {
		return lifecycle.NewManager(st, s, lifecycle.Config{
			Prefix:        "worker-",
			Render:        unit.DefaultRenderOptions(),
			StartupWindow: time.Second,
			PollInterval:  5 * time.Millisecond,
		})
	}

	exists := func(path string) bool {
		ok, err := fs.PathExists(ctx, path)
		Expect(err).NotTo(HaveOccurred())

		return ok
	}

	read := func(path string) string {
		data, err := fs.ReadFile(ctx, path)
		Expect(err).NotTo(HaveOccurred())

		return string(data)
	}

	BeforeEach(func() {
		ctx = context.Background()
		fs = filesystem.NewMockFileSystem()
		st = store.NewFileStore(fs, store.NewRenameMover(fs), store.Config{
			Prefix:     "worker-",
			SourceDir:  sourceDir,
			UnitDir:    unitDir,
			StagingDir: "/tmp",
		})
		sup = systemd.NewFakeSupervisor("worker-")
		sup.Loader = st.ListKnownServices
		m = newManager(sup)
	})

	Describe("Create", func() {
		It("writes both files and starts the service", func() {
			res, err := m.Create(ctx, lifecycle.ServiceSpec{
				Name:        "alpha",
				SourceCode:  "print('hi')",
				Description: "Alpha worker",
				Environment: map[string]string{"MODE": "test"},
				Port:        portPtr(8100),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Success).To(BeTrue())
			Expect(res.Service).To(Equal("worker-alpha"))
			Expect(res.SourceFile).To(Equal(sourceDir + "/worker-alpha.py"))
			Expect(res.UnitFile).To(Equal(unitDir + "/worker-alpha.service"))
			Expect(res.Active).To(BeTrue())
			Expect(res.State).To(Equal(lifecycle.StateActive))
			Expect(res.SourceChanged).To(BeTrue())
			Expect(res.UnitChanged).To(BeTrue())

			Expect(read(res.SourceFile)).To(Equal("print('hi')"))
			text := read(res.UnitFile)
			Expect(text).To(ContainSubstring("ExecStart=/usr/bin/python3 " + sourceDir + "/worker-alpha.py"))
			Expect(text).To(ContainSubstring(`Environment="MODE=test"`))
			Expect(text).To(ContainSubstring(`Environment="PORT=8100"`))
			Expect(exists("/tmp/worker-alpha.service")).To(BeFalse())

			Expect(sup.Calls()).To(ContainElements("daemon-reload", "enable worker-alpha", "start worker-alpha"))
			u, ok := sup.Unit("worker-alpha")
			Expect(ok).To(BeTrue())
			Expect(u.Enabled).To(BeTrue())
		})

		It("keeps a name that already carries the prefix", func() {
			res, err := m.Create(ctx, lifecycle.ServiceSpec{Name: "worker-beta", SourceCode: "pass"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Service).To(Equal("worker-beta"))
		})

		It("converges when re-driven with the same spec", func() {
			spec := lifecycle.ServiceSpec{Name: "alpha", SourceCode: "pass", Environment: map[string]string{"B": "2", "A": "1"}}

			_, err := m.Create(ctx, spec)
			Expect(err).NotTo(HaveOccurred())

			res, err := m.Create(ctx, spec)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Success).To(BeTrue())
			Expect(res.SourceChanged).To(BeFalse())
			Expect(res.UnitChanged).To(BeFalse())
			Expect(res.State).To(Equal(lifecycle.StateActive))
		})

		DescribeTable("rejects invalid input before touching the filesystem",
			func(spec lifecycle.ServiceSpec) {
				_, err := m.Create(ctx, spec)
				Expect(err).To(MatchError(apierrors.ErrValidation))
				Expect(fs.Calls()).To(BeEmpty())
				Expect(sup.Calls()).To(BeEmpty())
			},
			Entry("empty name", lifecycle.ServiceSpec{Name: "  ", SourceCode: "pass"}),
			Entry("path traversal", lifecycle.ServiceSpec{Name: "../etc", SourceCode: "pass"}),
			Entry("missing code", lifecycle.ServiceSpec{Name: "alpha"}),
			Entry("bad env key", lifecycle.ServiceSpec{Name: "alpha", SourceCode: "pass", Environment: map[string]string{"1X": "v"}}),
			Entry("env value with newline", lifecycle.ServiceSpec{Name: "alpha", SourceCode: "pass", Environment: map[string]string{"X": "a\nb"}}),
			Entry("port out of range", lifecycle.ServiceSpec{Name: "alpha", SourceCode: "pass", Port: portPtr(70000)}),
		)

		It("reports a failed start and leaves the files in place", func() {
			sup.SetUnit("worker-alpha", &systemd.FakeUnit{FailStart: true})

			res, err := m.Create(ctx, lifecycle.ServiceSpec{Name: "alpha", SourceCode: "raise SystemExit(1)"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Success).To(BeFalse())
			Expect(res.Active).To(BeFalse())
			Expect(res.State).To(Equal(lifecycle.StateFailed))
			Expect(res.Failures).To(HaveLen(1))
			Expect(res.Failures[0].Step).To(Equal("start"))
			Expect(res.Failures[0].Kind).To(Equal(apierrors.KindExternal))
			Expect(res.Failures[0].Stderr).To(ContainSubstring("failed"))

			Expect(exists(res.SourceFile)).To(BeTrue())
			Expect(exists(res.UnitFile)).To(BeTrue())
		})

		It("keeps going after a failed reload", func() {
			sup.Failures["daemon-reload"] = "Access denied"
			sup.SetUnit("worker-alpha", &systemd.FakeUnit{})

			res, err := m.Create(ctx, lifecycle.ServiceSpec{Name: "alpha", SourceCode: "pass"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Success).To(BeFalse())
			Expect(res.Failures[0].Step).To(Equal("reload"))
			Expect(sup.Calls()).To(ContainElement("start worker-alpha"))
			Expect(res.Active).To(BeTrue())
		})

		It("waits for a slowly activating unit", func() {
			sup.SetUnit("worker-alpha", &systemd.FakeUnit{ActivatingPolls: 3})

			res, err := m.Create(ctx, lifecycle.ServiceSpec{Name: "alpha", SourceCode: "pass"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Active).To(BeTrue())
			Expect(res.State).To(Equal(lifecycle.StateActive))
		})

		It("fails when the unit cannot be placed", func() {
			fs.WithRenameFunc(func(ctx context.Context, oldPath, newPath string) error {
				return os.ErrPermission
			})

			_, err := m.Create(ctx, lifecycle.ServiceSpec{Name: "alpha", SourceCode: "pass"})
			Expect(err).To(MatchError(apierrors.ErrExternal))
			Expect(exists("/tmp/worker-alpha.service")).To(BeFalse())
			Expect(sup.Calls()).NotTo(ContainElement("start worker-alpha"))
		})

		It("serializes concurrent creates of one name", func() {
			var wg sync.WaitGroup

			for i := 0; i < 8; i++ {
				wg.Add(1)

				go func() {
					defer GinkgoRecover()
					defer wg.Done()

					res, err := m.Create(ctx, lifecycle.ServiceSpec{Name: "alpha", SourceCode: "pass"})
					Expect(err).NotTo(HaveOccurred())
					Expect(res.Success).To(BeTrue())
				}()
			}

			wg.Wait()

			// Only the first create wrote anything.
			writes := 0
			for _, call := range fs.Calls() {
				if call == "write "+sourceDir+"/worker-alpha.py" {
					writes++
				}
			}
			Expect(writes).To(Equal(1))
		})
	})

	Describe("Edit", func() {
		BeforeEach(func() {
			_, err := m.Create(ctx, lifecycle.ServiceSpec{Name: "alpha", SourceCode: "v1"})
			Expect(err).NotTo(HaveOccurred())
		})

		It("backs up the old source and restarts", func() {
			res, err := m.Edit(ctx, "worker-alpha", "v2", true)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Success).To(BeTrue())
			Expect(res.BackedUp).To(BeTrue())
			Expect(res.Restarted).To(BeTrue())
			Expect(res.Active).To(BeTrue())
			Expect(res.UnitMissing).To(BeFalse())
			Expect(res.State).To(Equal(lifecycle.StateActive))

			Expect(read(sourceDir + "/worker-alpha.py")).To(Equal("v2"))
			Expect(read(sourceDir + "/worker-alpha.py.backup")).To(Equal("v1"))
			Expect(sup.Calls()).To(ContainElement("restart worker-alpha"))
		})

		It("overwrites the single backup on every edit", func() {
			_, err := m.Edit(ctx, "worker-alpha", "v2", false)
			Expect(err).NotTo(HaveOccurred())
			_, err = m.Edit(ctx, "worker-alpha", "v3", false)
			Expect(err).NotTo(HaveOccurred())

			Expect(read(sourceDir + "/worker-alpha.py.backup")).To(Equal("v2"))
			Expect(sup.Calls()).NotTo(ContainElement("restart worker-alpha"))
		})

		It("does not add the prefix", func() {
			_, err := m.Edit(ctx, "alpha", "v2", false)
			Expect(err).To(MatchError(apierrors.ErrValidation))
			Expect(read(sourceDir + "/worker-alpha.py")).To(Equal("v1"))
		})

		It("writes only the source of a service without a unit", func() {
			res, err := m.Edit(ctx, "worker-gamma", "draft", true)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.UnitMissing).To(BeTrue())
			Expect(res.BackedUp).To(BeFalse())
			Expect(res.Success).To(BeFalse())
			Expect(res.Failures[0].Step).To(Equal("restart"))
			Expect(res.State).To(Equal(lifecycle.StateDefining))

			Expect(read(sourceDir + "/worker-gamma.py")).To(Equal("draft"))
			Expect(exists(unitDir + "/worker-gamma.service")).To(BeFalse())
		})

		It("reports a failed restart", func() {
			sup.Failures["restart worker-alpha"] = "Job failed"

			res, err := m.Edit(ctx, "worker-alpha", "v2", true)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Success).To(BeFalse())
			Expect(res.Failures[0].Stderr).To(Equal("Job failed"))
			Expect(read(sourceDir + "/worker-alpha.py")).To(Equal("v2"))
		})
	})

	Describe("Delete", func() {
		BeforeEach(func() {
			_, err := m.Create(ctx, lifecycle.ServiceSpec{Name: "alpha", SourceCode: "v1"})
			Expect(err).NotTo(HaveOccurred())
		})

		It("stops, disables and removes the unit", func() {
			res, err := m.Delete(ctx, "worker-alpha", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Success).To(BeTrue())
			Expect(res.UnitRemoved).To(BeTrue())
			Expect(res.SourceRemoved).To(BeFalse())
			Expect(res.State).To(Equal(lifecycle.StateAbsent))

			Expect(exists(unitDir + "/worker-alpha.service")).To(BeFalse())
			Expect(exists(sourceDir + "/worker-alpha.py")).To(BeTrue())
			Expect(sup.Calls()).To(ContainElements("stop worker-alpha", "disable worker-alpha"))

			_, known := sup.Unit("worker-alpha")
			Expect(known).To(BeFalse())
		})

		It("removes the source when asked", func() {
			res, err := m.Delete(ctx, "worker-alpha", true)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.SourceRemoved).To(BeTrue())
			Expect(exists(sourceDir + "/worker-alpha.py")).To(BeFalse())
		})

		It("tolerates a failing stop", func() {
			sup.Failures["stop worker-alpha"] = "Unit is masked"

			res, err := m.Delete(ctx, "worker-alpha", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Success).To(BeTrue())
			Expect(res.Failures).To(HaveLen(1))
			Expect(res.UnitRemoved).To(BeTrue())
		})

		It("is idempotent", func() {
			_, err := m.Delete(ctx, "worker-alpha", true)
			Expect(err).NotTo(HaveOccurred())

			res, err := m.Delete(ctx, "worker-alpha", true)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.UnitRemoved).To(BeFalse())
			Expect(res.SourceRemoved).To(BeFalse())
		})

		It("fails when the unit file cannot be removed", func() {
			fs.WithRemoveFunc(func(ctx context.Context, path string) error {
				if strings.HasSuffix(path, ".service") {
					return os.ErrPermission
				}

				return nil
			})

			_, err := m.Delete(ctx, "worker-alpha", true)
			Expect(err).To(MatchError(apierrors.ErrOS))
			Expect(exists(sourceDir + "/worker-alpha.py")).To(BeTrue())
		})

		It("does not add the prefix", func() {
			_, err := m.Delete(ctx, "alpha", true)
			Expect(err).To(MatchError(apierrors.ErrValidation))
			Expect(exists(unitDir + "/worker-alpha.service")).To(BeTrue())
		})
	})

	Describe("Start, Stop and Restart", func() {
		BeforeEach(func() {
			_, err := m.Create(ctx, lifecycle.ServiceSpec{Name: "alpha", SourceCode: "v1"})
			Expect(err).NotTo(HaveOccurred())
		})

		It("stops and starts a service", func() {
			res, err := m.Stop(ctx, "worker-alpha")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Success).To(BeTrue())
			Expect(res.Action).To(Equal("stop"))
			Expect(res.State).To(Equal(lifecycle.StateInactive))

			res, err = m.Start(ctx, "worker-alpha")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Success).To(BeTrue())
			Expect(res.State).To(Equal(lifecycle.StateActive))
		})

		It("returns a failed command as an unsuccessful result", func() {
			sup.Failures["restart worker-alpha"] = "Job for worker-alpha.service failed."

			res, err := m.Restart(ctx, "worker-alpha")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Success).To(BeFalse())
			Expect(res.Stderr).To(Equal("Job for worker-alpha.service failed."))
			Expect(res.State).To(Equal(lifecycle.StateFailed))
		})

		It("returns a timeout as an error", func() {
			sup.Timeouts["stop worker-alpha"] = true

			_, err := m.Stop(ctx, "worker-alpha")
			Expect(err).To(MatchError(apierrors.ErrTimeout))
		})

		It("rejects services without a unit", func() {
			_, err := m.Start(ctx, "worker-nobody")
			Expect(err).To(MatchError(apierrors.ErrNotFound))
		})

		It("rejects names outside the namespace", func() {
			_, err := m.Restart(ctx, "sshd")
			Expect(err).To(MatchError(apierrors.ErrValidation))
			Expect(sup.Calls()).NotTo(ContainElement("restart sshd"))
		})
	})

	Describe("queries", func() {
		BeforeEach(func() {
			_, err := m.Create(ctx, lifecycle.ServiceSpec{Name: "alpha", SourceCode: "v1", Description: "Alpha", Port: portPtr(9000)})
			Expect(err).NotTo(HaveOccurred())
			_, err = m.Create(ctx, lifecycle.ServiceSpec{Name: "beta", SourceCode: "v1"})
			Expect(err).NotTo(HaveOccurred())
			_, err = m.Stop(ctx, "worker-beta")
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns the status text", func() {
			res, err := m.Status(ctx, "worker-alpha")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsActive).To(BeTrue())
			Expect(res.Status).To(ContainSubstring("worker-alpha.service"))
		})

		It("defaults and caps the log window", func() {
			res, err := m.Logs(ctx, "worker-alpha", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Lines).To(Equal(50))

			res, err = m.Logs(ctx, "worker-alpha", 1_000_000)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Lines).To(Equal(10000))
			Expect(sup.Calls()).To(ContainElements("journal worker-alpha 50", "journal worker-alpha 10000"))
		})

		It("lists the namespace", func() {
			entries, err := m.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
		})

		It("describes a service by its bare name", func() {
			res, err := m.Info(ctx, "alpha")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Service).To(Equal("worker-alpha"))
			Expect(res.Description).To(Equal("Alpha"))
			Expect(res.SourceFilename).To(Equal("worker-alpha.py"))
			Expect(*res.Port).To(Equal(9000))
			Expect(res.Active).To(BeTrue())
			Expect(res.Error).To(BeEmpty())
		})

		It("describes a missing service without failing", func() {
			res, err := m.Info(ctx, "nobody")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(Equal("Service file not found"))
			Expect(res.Active).To(BeFalse())
		})

		It("maps every unit to its entrypoint", func() {
			entries, err := m.Mapping(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
			Expect(entries[0].Service).To(Equal("worker-alpha"))
			Expect(entries[0].SourceFile).To(Equal(sourceDir + "/worker-alpha.py"))
			Expect(entries[0].Active).To(BeTrue())
			Expect(entries[1].Service).To(Equal("worker-beta"))
			Expect(entries[1].Active).To(BeFalse())
		})

		It("turns a panic into an internal error with a trace", func() {
			m = newManager(panickingSupervisor{sup})

			_, err := m.Status(ctx, "worker-alpha")
			Expect(err).To(MatchError(apierrors.ErrInternal))

			payload := apierrors.ToPayload(err)
			Expect(payload.Error).To(ContainSubstring("status parser exploded"))
			Expect(payload.Traceback).NotTo(BeEmpty())
		})
	})
})
