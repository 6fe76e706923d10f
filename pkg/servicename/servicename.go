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

// Package servicename turns caller-supplied names into canonical,
// namespace-prefixed service names that are safe to use as a path
// component and as a systemd unit name.
package servicename

import (
	"regexp"
	"strings"

	"github.com/united-manufacturing-hub/workerplane/pkg/apierrors"
	"github.com/united-manufacturing-hub/workerplane/pkg/constants"
)

// Mode selects how a name lacking the namespace prefix is treated.
type Mode int

const (
	// Strict rejects names that do not already carry the prefix.
	Strict Mode = iota
	// AddPrefix prepends the prefix to names that lack it.
	AddPrefix
)

func (m Mode) String() string {
	if m == Strict {
		return "strict"
	}

	return "add-prefix"
}

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.@-]*$`)

// Normalizer normalizes names against one namespace prefix.
type Normalizer struct {
	prefix string
}

func NewNormalizer(prefix string) Normalizer {
	if prefix == "" {
		prefix = constants.DefaultServicePrefix
	}

	return Normalizer{prefix: prefix}
}

// Prefix returns the namespace prefix.
func (n Normalizer) Prefix() string {
	return n.prefix
}

// HasPrefix reports whether name lies inside the namespace.
func (n Normalizer) HasPrefix(name string) bool {
	return strings.HasPrefix(name, n.prefix)
}

// Normalize returns the canonical form of raw. The result always carries
// the prefix and matches the safe name charset.
func (n Normalizer) Normalize(raw string, mode Mode) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", apierrors.Validation("normalizeName", "service name is required")
	}

	if !n.HasPrefix(name) {
		if mode == Strict {
			return "", apierrors.Validation("normalizeName", "can only control %s* services, got %q", n.prefix, name)
		}

		name = n.prefix + name
	}

	if err := n.check(name); err != nil {
		return "", err
	}

	return name, nil
}

func (n Normalizer) check(name string) error {
	switch {
	case len(name) <= len(n.prefix):
		return apierrors.Validation("normalizeName", "service name %q has nothing after the prefix", name)
	case len(name) > constants.MaxServiceNameLength:
		return apierrors.Validation("normalizeName", "service name is longer than %d bytes", constants.MaxServiceNameLength)
	case strings.Contains(name, ".."):
		return apierrors.Validation("normalizeName", "service name %q must not contain '..'", name)
	case !validName.MatchString(name):
		return apierrors.Validation("normalizeName", "service name %q may only contain letters, digits, '_', '.', '@' and '-'", name)
	}

	return nil
}
