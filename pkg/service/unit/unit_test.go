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

package unit_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/workerplane/pkg/apierrors"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/unit"
)

const expectedUnit = `[Unit]
Description=Voice bot
After=network.target

[Service]
Type=simple
User=ubuntu
WorkingDirectory=/home/ubuntu/workers
Environment="PYTHONUNBUFFERED=1"
Environment="API_KEY=abc"
Environment="PORT=9001"
Environment="ZONE=eu"
ExecStart=/usr/bin/python3 /home/ubuntu/workers/worker-bot.py
Restart=always
RestartSec=3

[Install]
WantedBy=multi-user.target
`

var _ = Describe("Render", func() {
	port := 9001

	spec := unit.Spec{
		Name:        "worker-bot",
		Description: "Voice bot",
		Environment: map[string]string{"ZONE": "eu", "API_KEY": "abc"},
		Port:        &port,
	}

	It("renders the full unit with sorted environment", func() {
		text, err := unit.Render(spec, "/home/ubuntu/workers/worker-bot.py", "/home/ubuntu/workers", unit.DefaultRenderOptions())
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal(expectedUnit))
	})

	It("is deterministic across renders", func() {
		first, err := unit.Render(spec, "/w/worker-bot.py", "/w", unit.RenderOptions{})
		Expect(err).NotTo(HaveOccurred())

		for i := 0; i < 20; i++ {
			again, err := unit.Render(spec, "/w/worker-bot.py", "/w", unit.RenderOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(Equal(first))
		}
	})

	It("defaults the description and honours an explicit PORT", func() {
		text, err := unit.Render(unit.Spec{
			Name:        "worker-x",
			Environment: map[string]string{"PORT": "7000"},
			Port:        &port,
		}, "/w/worker-x.py", "/w", unit.RenderOptions{Interpreter: "/opt/py/bin/python", RunAsUser: "svc", RestartSec: 10})
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(ContainSubstring("Description=Service worker-x\n"))
		Expect(text).To(ContainSubstring("Environment=\"PORT=7000\"\n"))
		Expect(text).NotTo(ContainSubstring("PORT=9001"))
		Expect(text).To(ContainSubstring("ExecStart=/opt/py/bin/python /w/worker-x.py\n"))
		Expect(text).To(ContainSubstring("User=svc\n"))
		Expect(text).To(ContainSubstring("RestartSec=10\n"))
	})

	It("quotes values with whitespace, quotes and specifiers", func() {
		text, err := unit.Render(unit.Spec{
			Name: "worker-q",
			Environment: map[string]string{
				"GREETING": "hello world",
				"RATIO":    "50%",
				"QUOTED":   `say "hi" \ bye`,
			},
		}, "/w/worker-q.py", "/w", unit.RenderOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(ContainSubstring("Environment=\"GREETING=hello world\"\n"))
		Expect(text).To(ContainSubstring("Environment=\"RATIO=50%%\"\n"))
		Expect(text).To(ContainSubstring(`Environment="QUOTED=say \"hi\" \\ bye"` + "\n"))

		info := unit.Parse(text, ".py")
		Expect(info.Environment).To(HaveKeyWithValue("GREETING", "hello world"))
		Expect(info.Environment).To(HaveKeyWithValue("RATIO", "50%"))
		Expect(info.Environment).To(HaveKeyWithValue("QUOTED", `say "hi" \ bye`))
		Expect(info.Environment).To(HaveKeyWithValue("PYTHONUNBUFFERED", "1"))
	})

	DescribeTable("rejects input that would break the unit",
		func(s unit.Spec) {
			_, err := unit.Render(s, "/w/a.py", "/w", unit.RenderOptions{})
			Expect(apierrors.KindOf(err)).To(Equal(apierrors.KindValidation))
		},
		Entry("empty name", unit.Spec{}),
		Entry("bad env key", unit.Spec{Name: "worker-a", Environment: map[string]string{"A-B": "1"}}),
		Entry("newline in env value", unit.Spec{Name: "worker-a", Environment: map[string]string{"A": "1\nExecStart=/bin/sh"}}),
		Entry("newline in description", unit.Spec{Name: "worker-a", Description: "a\nb"}),
	)
})

var _ = Describe("Parse", func() {
	It("reads back what Render wrote", func() {
		info := unit.Parse(expectedUnit, ".py")

		Expect(info.Description).To(Equal("Voice bot"))
		Expect(info.SourcePath).To(Equal("/home/ubuntu/workers/worker-bot.py"))
		Expect(info.SourceFilename()).To(Equal("worker-bot.py"))
		Expect(info.Port).NotTo(BeNil())
		Expect(*info.Port).To(Equal(9001))
		Expect(info.Environment).To(HaveKeyWithValue("API_KEY", "abc"))
	})

	It("prefers a --port argument", func() {
		info := unit.Parse("[Service]\nExecStart=/usr/bin/python3 /w/a.py --port=8080\nEnvironment=PORT=1\n", ".py")
		Expect(*info.Port).To(Equal(8080))

		info = unit.Parse("ExecStart=/usr/bin/python3 /w/a.py --port 8081\n", ".py")
		Expect(*info.Port).To(Equal(8081))
	})

	It("tolerates units it did not write", func() {
		info := unit.Parse("garbage\n[Service]\nExecStart=/bin/true\n", ".py")
		Expect(info.SourcePath).To(BeEmpty())
		Expect(info.Port).To(BeNil())
		Expect(info.Description).To(BeEmpty())
	})
})

var _ = Describe("Equivalent", func() {
	It("ignores environment order only", func() {
		a := "[Service]\nEnvironment=A=1\nEnvironment=B=2\nExecStart=x\n"
		b := "[Service]\nEnvironment=B=2\nEnvironment=A=1\nExecStart=x\n"
		c := "[Service]\nEnvironment=B=3\nEnvironment=A=1\nExecStart=x\n"

		Expect(unit.Equivalent(a, b)).To(BeTrue())
		Expect(unit.Equivalent(a, c)).To(BeFalse())
	})
})
