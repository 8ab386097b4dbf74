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

import "flag"

// Flags is the set of command-line flags the proxy accepts, mirroring the
// teacher's TricksterFlags.
type Flags struct {
	ConfigPath  string
	customPath  bool
	PrintVersion bool
}

// parseFlags parses arguments into a Flags, the same shape as the
// teacher's TricksterConfig.parseFlags.
func parseFlags(applicationName string, arguments []string) *Flags {
	fs := flag.NewFlagSet(applicationName, flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a TOML configuration file")
	printVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(arguments)

	return &Flags{
		ConfigPath:   *configPath,
		customPath:   *configPath != "",
		PrintVersion: *printVersion,
	}
}

// Load returns the running configuration, starting from defaults and
// overriding with any provided config file, mirroring the teacher's
// config.Load(applicationName, applicationVersion, arguments) entry point.
func Load(applicationName, applicationVersion string, arguments []string) (*ProxyConfig, error) {
	f := parseFlags(applicationName, arguments)
	if f.PrintVersion {
		return NewConfig(), nil
	}

	c := NewConfig()
	if err := c.loadFile(f.ConfigPath); err != nil && f.customPath {
		return nil, err
	}

	Config = c
	return c, nil
}
