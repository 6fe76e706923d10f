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

package unit

import (
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Info is what can be read back out of a unit file.
type Info struct {
	Description string
	// SourcePath is the first ExecStart argument ending in the source extension.
	SourcePath string
	ExecStart  string
	Port       *int
	// Environment holds every Environment= assignment, PYTHONUNBUFFERED included.
	Environment map[string]string
}

// SourceFilename returns the base name of SourcePath.
func (i Info) SourceFilename() string {
	if i.SourcePath == "" {
		return ""
	}

	return filepath.Base(i.SourcePath)
}

var portPattern = regexp.MustCompile(`--port[=\s](\d+)`)

// Parse extracts description, entrypoint, port and environment from unit text.
// Unknown or malformed lines are ignored.
func Parse(text string, sourceExt string) Info {
	info := Info{Environment: map[string]string{}}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		switch strings.TrimSpace(key) {
		case "Description":
			if info.Description == "" {
				info.Description = strings.TrimSpace(value)
			}
		case "ExecStart":
			if info.ExecStart == "" {
				info.ExecStart = strings.TrimSpace(value)
				info.SourcePath = entrypoint(info.ExecStart, sourceExt)
			}
		case "Environment":
			if k, v, ok := strings.Cut(unquoteEnv(strings.TrimSpace(value)), "="); ok {
				info.Environment[k] = v
			}
		}
	}

	if m := portPattern.FindStringSubmatch(text); m != nil {
		if port, err := strconv.Atoi(m[1]); err == nil {
			info.Port = &port
		}
	} else if v, ok := info.Environment["PORT"]; ok {
		if port, err := strconv.Atoi(v); err == nil {
			info.Port = &port
		}
	}

	return info
}

// unquoteEnv reverses the quoting Render applies to an Environment= value.
// Unquoted values written by hand are taken as they are, apart from %%.
func unquoteEnv(value string) string {
	quoted := len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"'
	if quoted {
		value = value[1 : len(value)-1]
	}

	var b strings.Builder

	for i := 0; i < len(value); i++ {
		c := value[i]

		switch {
		case quoted && c == '\\' && i+1 < len(value):
			i++
			b.WriteByte(value[i])
		case c == '%' && i+1 < len(value) && value[i+1] == '%':
			i++
			b.WriteByte('%')
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}

func entrypoint(execStart, sourceExt string) string {
	for _, field := range strings.Fields(execStart) {
		if strings.HasSuffix(field, sourceExt) {
			return field
		}
	}

	return ""
}

// Canonical returns text with the Environment= lines of each section sorted,
// so two units differing only in environment order compare equal.
func Canonical(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))

	var envRun []string

	flush := func() {
		sort.Strings(envRun)
		out = append(out, envRun...)
		envRun = envRun[:0]
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "Environment=") {
			envRun = append(envRun, strings.TrimSpace(line))

			continue
		}

		flush()
		out = append(out, strings.TrimRight(line, " \t\r"))
	}

	flush()

	return strings.Join(out, "\n")
}

// Hash fingerprints the canonical form of a unit.
func Hash(text string) uint64 {
	return xxhash.Sum64String(Canonical(text))
}

// Equivalent reports whether two unit texts differ at most in environment order.
func Equivalent(a, b string) bool {
	return Hash(a) == Hash(b)
}
