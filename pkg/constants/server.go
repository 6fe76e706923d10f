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

package constants

const (
	DefaultAPIListen   = "0.0.0.0"
	DefaultAPIPort     = 5002
	DefaultMetricsPort = 8081

	// DefaultRateLimit is the sustained requests per second the request layer admits.
	DefaultRateLimit = 20
	DefaultRateBurst = 40

	RequestIDHeader = "X-Request-ID"
)

const (
	DefaultAppVersion             = "0.0.0-dev"
	DefaultDevelopmentEnvironment = "development"
	DefaultProductionEnvironment  = "production"
)

const (
	// ConfigEnvPrefix prefixes every environment override, e.g. WORKERPLANE_PREFIX.
	ConfigEnvPrefix = "WORKERPLANE"
	ConfigFileName  = "workerplane"
)
