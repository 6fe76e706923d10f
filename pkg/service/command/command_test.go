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

package command_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/workerplane/pkg/apierrors"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/command"
)

var _ = Describe("ClampTimeout", func() {
	DescribeTable("applies the default and the ceiling",
		func(requested, expected time.Duration) {
			Expect(command.ClampTimeout(requested, 30*time.Second, 60*time.Second)).To(Equal(expected))
		},
		Entry("zero uses the default", time.Duration(0), 30*time.Second),
		Entry("negative uses the default", -time.Second, 30*time.Second),
		Entry("within bounds is kept", 45*time.Second, 45*time.Second),
		Entry("above the ceiling is capped", 5*time.Minute, 60*time.Second),
	)
})

var _ = Describe("ExecRunner", func() {
	var (
		ctx    context.Context
		runner *command.ExecRunner
	)

	BeforeEach(func() {
		ctx = context.Background()
		runner = command.NewExecRunner(5*time.Second, 10*time.Second)
	})

	It("captures stdout and exit code", func() {
		res, err := runner.Run(ctx, command.Command{Name: "sh", Args: []string{"-c", "echo hello"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Stdout).To(Equal("hello\n"))
		Expect(res.ExitCode).To(Equal(0))
	})

	It("reports a nonzero exit as an external failure with stderr", func() {
		res, err := runner.Run(ctx, command.Command{Name: "sh", Args: []string{"-c", "echo broken >&2; exit 3"}})
		Expect(apierrors.KindOf(err)).To(Equal(apierrors.KindExternal))
		Expect(apierrors.StderrOf(err)).To(Equal("broken"))
		Expect(res.ExitCode).To(Equal(3))
	})

	It("reports a timeout distinctly and without an exit code", func() {
		res, err := runner.Run(ctx, command.Command{Name: "sleep", Args: []string{"5"}, Timeout: 50 * time.Millisecond})
		Expect(apierrors.KindOf(err)).To(Equal(apierrors.KindTimeout))
		Expect(res.ExitCode).To(Equal(-1))
	})

	It("reports a missing binary as an external failure", func() {
		_, err := runner.Run(ctx, command.Command{Name: "/nonexistent/binary"})
		Expect(apierrors.KindOf(err)).To(Equal(apierrors.KindExternal))
	})
})

var _ = Describe("FakeRunner", func() {
	It("replays scripted responses and records calls", func() {
		fake := command.NewFakeRunner().
			On("systemctl is-active worker-a", command.FakeResponse{Stdout: "active\n"}).
			On("systemctl start worker-b", command.FakeResponse{ExitCode: 5, Stderr: "Unit worker-b.service not found.\n"}).
			On("systemctl stop worker-c", command.FakeResponse{TimedOut: true})

		res, err := fake.Run(context.Background(), command.Command{Name: "systemctl", Args: []string{"is-active", "worker-a"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Stdout).To(Equal("active\n"))

		_, err = fake.Run(context.Background(), command.Command{Name: "systemctl", Args: []string{"start", "worker-b"}})
		Expect(apierrors.StderrOf(err)).To(Equal("Unit worker-b.service not found."))

		_, err = fake.Run(context.Background(), command.Command{Name: "systemctl", Args: []string{"stop", "worker-c"}})
		Expect(apierrors.KindOf(err)).To(Equal(apierrors.KindTimeout))

		Expect(fake.Calls()).To(Equal([]string{
			"systemctl is-active worker-a",
			"systemctl start worker-b",
			"systemctl stop worker-c",
		}))
	})
})
