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

package main

import (
	"bytes"
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/workerplane/pkg/config"
	"github.com/united-manufacturing-hub/workerplane/pkg/lifecycle"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/command"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/filesystem"
)

var _ = Describe("workerplane", func() {
	execute := func(args ...string) (string, error) {
		var out bytes.Buffer

		cmd := newRootCommand()
		cmd.SetArgs(args)
		cmd.SetOut(&out)
		cmd.SetErr(&out)

		err := cmd.Execute()

		return out.String(), err
	}

	It("prints the effective configuration", func() {
		GinkgoT().Setenv("WORKERPLANE_PREFIX", "job-")

		out, err := execute("config", "print")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("prefix: job-"))
		Expect(out).To(ContainSubstring("unit_dir: /etc/systemd/system"))
	})

	It("rejects an invalid configuration before running a command", func() {
		GinkgoT().Setenv("WORKERPLANE_LIFECYCLE_MAX_BACKUPS", "0")

		_, err := execute("config", "print")
		Expect(err).To(MatchError(ContainSubstring("lifecycle.max_backups")))
	})

	It("needs either a name or --all to diagnose", func() {
		_, err := execute("diagnose")
		Expect(err).To(MatchError(ContainSubstring("either a service name or --all")))

		_, err = execute("diagnose", "worker-a", "--all")
		Expect(err).To(HaveOccurred())
	})

	It("wires the components against the configured directories", func() {
		cfg, err := config.Load("")
		Expect(err).NotTo(HaveOccurred())
		cfg.Supervisor.UseSudo = false
		cfg.Lifecycle.StartupWindow = 0

		fs := filesystem.NewMemoryService()
		runner := command.NewFakeRunner()
		runner.On("systemctl is-active worker-alpha.service", command.FakeResponse{Stdout: "active\n"})

		a := newAppWith(cfg, fs, runner)

		res, err := a.manager.Create(context.Background(), lifecycle.ServiceSpec{Name: "alpha", SourceCode: "pass"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Success).To(BeTrue())
		Expect(res.Active).To(BeTrue())

		exists, err := fs.PathExists(context.Background(), "/etc/systemd/system/worker-alpha.service")
		Expect(err).NotTo(HaveOccurred())
		Expect(exists).To(BeTrue())
		Expect(runner.Calls()).To(ContainElements(
			"systemctl daemon-reload",
			"systemctl enable worker-alpha.service",
			"systemctl start worker-alpha.service",
		))
	})
})
