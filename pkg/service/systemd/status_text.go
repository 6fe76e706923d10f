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

import "strings"

// The helpers below derive booleans from the free-text output of
// "systemctl status". They are kept for callers that only have the text;
// Show is the structured source of the same information.

// StatusTextActive reports whether status text shows a running unit.
func StatusTextActive(text string) bool {
	return strings.Contains(text, "active (running)")
}

// StatusTextFailed reports whether status text mentions a failure anywhere,
// including earlier failures still visible in the log excerpt.
func StatusTextFailed(text string) bool {
	return strings.Contains(strings.ToLower(text), "failed")
}
