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

// Package config is the Running Configuration for the proxy, loaded from a
// TOML file the way the teacher's internal/config loads trickster.conf:
// defaults first, then the file is decoded over them.
package config

import (
	"bytes"

	"github.com/BurntSushi/toml"
)

// Config is the Running Configuration, set once by Load.
var Config *ProxyConfig

// ProxyConfig is the root of the TOML configuration tree.
type ProxyConfig struct {
	Listener   *ListenerConfig   `toml:"listener"`
	Cache      *CacheConfig      `toml:"cache"`
	Certs      *CertsConfig      `toml:"certs"`
	Logging    *LoggingConfig    `toml:"logging"`
	Metrics    *MetricsConfig    `toml:"metrics"`
	Tracing    *TracingConfig    `toml:"tracing"`
	Admin      *AdminConfig      `toml:"admin"`
	Classifier *ClassifierConfig `toml:"classifier"`
}

// ListenerConfig configures the dispatcher's (C8) accept socket.
type ListenerConfig struct {
	ListenAddress  string `toml:"listen_address"`
	ListenPort     int    `toml:"listen_port"`
	MaxConnections int    `toml:"max_connections"` // 0 == unbounded, §9 open question
}

// CacheConfig configures the GDSF cache (C3).
type CacheConfig struct {
	Capacity      int   `toml:"capacity"`
	Compression   bool  `toml:"compression"`
	MaxEntryBytes int64 `toml:"max_entry_bytes"` // 0 == unbounded, §9 open question
}

// CertsConfig configures the certificate minter (C7).
type CertsConfig struct {
	WorkingDir string `toml:"working_dir"`
	CAName     string `toml:"ca_name"`
	TTLDays    int    `toml:"ttl_days"`
}

// LoggingConfig mirrors the teacher's LoggingConfig (log file + level).
type LoggingConfig struct {
	LogFile  string `toml:"log_file"`
	LogLevel string `toml:"log_level"`
}

// MetricsConfig mirrors the teacher's MetricsConfig (a loopback
// Prometheus /metrics listener).
type MetricsConfig struct {
	ListenAddress string `toml:"listen_address"`
	ListenPort    int    `toml:"listen_port"`
}

// TracingConfig mirrors the teacher's TracingConfig.
type TracingConfig struct {
	Implementation    string `toml:"implementation"`
	CollectorEndpoint string `toml:"collector_endpoint"`
	ServiceName       string `toml:"service_name"`
}

// AdminConfig configures the loopback diagnostics surface (config dump,
// ping, cache snapshot, metrics), grounded on the teacher's
// ConfigHandlerPath/PingHandlerPath in MainConfig.
type AdminConfig struct {
	ListenAddress string `toml:"listen_address"`
	ListenPort    int    `toml:"listen_port"`
	ConfigPath    string `toml:"config_path"`
	PingPath      string `toml:"ping_path"`
	CachePath     string `toml:"cache_path"`
}

// ClassifierConfig configures the optional external URL-reputation
// collaborator (§6, out of core scope).
type ClassifierConfig struct {
	Enabled bool   `toml:"enabled"`
	Command string `toml:"command"`
}

// NewConfig returns a ProxyConfig populated with defaults, the same
// construction style as the teacher's NewConfig.
func NewConfig() *ProxyConfig {
	return &ProxyConfig{
		Listener: &ListenerConfig{
			ListenAddress:  defaultListenAddress,
			ListenPort:     defaultListenPort,
			MaxConnections: defaultMaxConnections,
		},
		Cache: &CacheConfig{
			Capacity:      defaultCacheCapacity,
			Compression:   defaultCacheCompression,
			MaxEntryBytes: defaultMaxEntryBytes,
		},
		Certs: &CertsConfig{
			WorkingDir: defaultCertWorkingDir,
			CAName:     defaultCAName,
			TTLDays:    defaultCertTTLDays,
		},
		Logging: &LoggingConfig{
			LogFile:  defaultLogFile,
			LogLevel: defaultLogLevel,
		},
		Metrics: &MetricsConfig{
			ListenAddress: defaultAdminListenAddress,
			ListenPort:    defaultMetricsListenPort,
		},
		Tracing: &TracingConfig{
			Implementation: defaultTracerImplementation,
			ServiceName:    "mitmcache-proxy",
		},
		Admin: &AdminConfig{
			ListenAddress: defaultAdminListenAddress,
			ListenPort:    defaultAdminListenPort,
			ConfigPath:    defaultAdminConfigPath,
			PingPath:      defaultAdminPingPath,
			CachePath:     defaultAdminCachePath,
		},
		Classifier: &ClassifierConfig{
			Enabled: false,
		},
	}
}

// loadFile decodes configPath over c with toml.DecodeFile. The returned
// toml.MetaData (which keys were present) is not consulted.
func (c *ProxyConfig) loadFile(configPath string) error {
	if configPath == "" {
		return nil
	}
	_, err := toml.DecodeFile(configPath, c)
	return err
}

// copy returns a deep-enough copy of c for use by String(), matching the
// teacher's copy-before-redact pattern in TricksterConfig.String().
func (c *ProxyConfig) copy() *ProxyConfig {
	cp := *c
	if c.Listener != nil {
		l := *c.Listener
		cp.Listener = &l
	}
	if c.Cache != nil {
		ca := *c.Cache
		cp.Cache = &ca
	}
	if c.Certs != nil {
		ce := *c.Certs
		cp.Certs = &ce
	}
	if c.Logging != nil {
		lo := *c.Logging
		cp.Logging = &lo
	}
	if c.Metrics != nil {
		m := *c.Metrics
		cp.Metrics = &m
	}
	if c.Tracing != nil {
		t := *c.Tracing
		cp.Tracing = &t
	}
	if c.Admin != nil {
		a := *c.Admin
		cp.Admin = &a
	}
	if c.Classifier != nil {
		cl := *c.Classifier
		cp.Classifier = &cl
	}
	return &cp
}

// String renders the running configuration as TOML, for the admin config
// dump handler. There is currently nothing secret in this configuration
// tree, but the redact-then-encode shape follows the teacher's
// String()/hideAuthorizationCredentials pattern so a future secret-bearing
// field (e.g. a classifier API token) has somewhere to be stripped.
func (c *ProxyConfig) String() string {
	cp := c.copy()
	var buf bytes.Buffer
	e := toml.NewEncoder(&buf)
	_ = e.Encode(cp)
	return buf.String()
}
