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

package validator_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/workerplane/pkg/apierrors"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/command"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/validator"
)

var _ = Describe("PythonValidator", func() {
	var (
		ctx    context.Context
		runner *command.FakeRunner
		v      *validator.PythonValidator
	)

	BeforeEach(func() {
		ctx = context.Background()
		runner = command.NewFakeRunner()
		v = validator.NewPythonValidator(runner, "python3")
	})

	It("accepts a source that compiles", func() {
		verdict, err := v.Check(ctx, "/w/worker-a.py")
		Expect(err).NotTo(HaveOccurred())
		Expect(verdict.Valid).To(BeTrue())
		Expect(runner.Calls()).To(Equal([]string{"python3 -m py_compile /w/worker-a.py"}))
	})

	It("returns the compiler diagnostic for a syntax error", func() {
		runner.On("python3 -m py_compile /w/worker-a.py", command.FakeResponse{
			ExitCode: 1,
			Stderr:   "  File \"/w/worker-a.py\", line 1\n    print(\n          ^\nSyntaxError: '(' was never closed\n",
		})

		verdict, err := v.Check(ctx, "/w/worker-a.py")
		Expect(err).NotTo(HaveOccurred())
		Expect(verdict.Valid).To(BeFalse())
		Expect(verdict.Diagnostic).To(ContainSubstring("SyntaxError"))
	})

	It("fails when the check itself times out", func() {
		runner.On("python3 -m py_compile /w/worker-a.py", command.FakeResponse{TimedOut: true})

		_, err := v.Check(ctx, "/w/worker-a.py")
		Expect(apierrors.KindOf(err)).To(Equal(apierrors.KindTimeout))
	})
})
