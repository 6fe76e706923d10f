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

package systemd

import (
	"strconv"
	"strings"
)

// parseListUnits parses "systemctl list-units --plain --no-legend" output.
// Rows with fewer than four columns or outside the namespace are skipped.
func parseListUnits(output string, prefix string) []UnitEntry {
	var entries []UnitEntry

	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)

		// Some systemd versions prefix failed or not-found rows with a marker.
		if len(fields) > 0 && (fields[0] == "●" || fields[0] == "*") {
			fields = fields[1:]
		}

		if len(fields) < 4 {
			continue
		}

		unitName := fields[0]
		if !strings.HasPrefix(unitName, prefix) || !strings.HasSuffix(unitName, unitSuffix) {
			continue
		}

		entries = append(entries, UnitEntry{
			Name:        strings.TrimSuffix(unitName, unitSuffix),
			Load:        fields[1],
			Active:      fields[2],
			Sub:         fields[3],
			Description: strings.Join(fields[4:], " "),
		})
	}

	return entries
}

// parseShow parses "systemctl show -p ..." key=value output.
func parseShow(output string) UnitState {
	var state UnitState

	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}

		switch key {
		case "LoadState":
			state.LoadState = value
		case "ActiveState":
			state.ActiveState = value
		case "SubState":
			state.SubState = value
		case "MainPID":
			if pid, err := strconv.ParseInt(value, 10, 32); err == nil {
				state.MainPID = int32(pid)
			}
		case "NRestarts":
			if n, err := strconv.Atoi(value); err == nil {
				state.NRestarts = n
			}
		}
	}

	return state
}
