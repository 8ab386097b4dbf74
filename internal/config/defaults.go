/**
* Copyright 2018 Comcast Cable Communications Management, LLC
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You may obtain a copy of the License at
* http://www.apache.org/licenses/LICENSE-2.0
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
 */

package config

const (
	defaultLogFile  = ""
	defaultLogLevel = "INFO"

	defaultListenPort    = 3490
	defaultListenAddress = ""

	defaultAdminListenPort    = 6060
	defaultAdminListenAddress = "127.0.0.1"

	defaultMetricsListenPort = 8082

	defaultTracerImplementation = "stdout"

	defaultCacheCapacity      = 4096
	defaultCacheCompression   = false
	defaultMaxEntryBytes      = 0 // 0 == unbounded
	defaultMaxConnections     = 0 // 0 == unbounded, per §9 open question

	defaultCertWorkingDir = "/tmp/mitmcache/certs"
	defaultCAName         = "mitmproxyCA"
	defaultCertTTLDays    = 365

	defaultAdminConfigPath = "/admin/config"
	defaultAdminPingPath   = "/admin/ping"
	defaultAdminCachePath  = "/admin/cache"
)
