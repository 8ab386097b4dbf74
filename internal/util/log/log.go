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

// Package log provides the application-wide structured logger. Call sites
// pass a message plus a Pairs map of structured fields, mirroring the
// convention used throughout the teacher codebase
// (log.Debug(msg, log.Pairs{"key": "val"})).
package log

import (
	"os"
	"sync"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Pairs is a set of structured logging fields.
type Pairs map[string]interface{}

var (
	mtx        sync.RWMutex
	logger     kitlog.Logger
	levelGate  level.Option = level.AllowInfo()
	warnedOnce sync.Map
)

func init() {
	logger = kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stdout))
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)
}

// Init configures the logger's level and destination. logFile empty means
// log to stdout; otherwise a rotating lumberjack sink is used.
func Init(logLevel, logFile string) {
	mtx.Lock()
	defer mtx.Unlock()

	var w = kitlog.NewSyncWriter(os.Stdout)
	if logFile != "" {
		w = kitlog.NewSyncWriter(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		})
	}
	logger = kitlog.NewLogfmtLogger(w)
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)

	switch logLevel {
	case "debug", "DEBUG", "trace", "TRACE":
		levelGate = level.AllowDebug()
	case "warn", "WARN":
		levelGate = level.AllowWarn()
	case "error", "ERROR":
		levelGate = level.AllowError()
	default:
		levelGate = level.AllowInfo()
	}
}

func logWith(lv func(kitlog.Logger) kitlog.Logger, msg string, p Pairs) {
	mtx.RLock()
	l := level.NewFilter(logger, levelGate)
	mtx.RUnlock()

	kvs := make([]interface{}, 0, 2+len(p)*2)
	kvs = append(kvs, "msg", msg)
	for k, v := range p {
		kvs = append(kvs, k, v)
	}
	lv(l).Log(kvs...)
}

// Debug logs at debug level.
func Debug(msg string, p Pairs) { logWith(level.Debug, msg, p) }

// Info logs at info level.
func Info(msg string, p Pairs) { logWith(level.Info, msg, p) }

// Warn logs at warn level.
func Warn(msg string, p Pairs) { logWith(level.Warn, msg, p) }

// Error logs at error level.
func Error(msg string, p Pairs) { logWith(level.Error, msg, p) }

// WarnOnce logs a warn-level message at most once per key, matching the
// teacher's clock-offset-warning usage in httpproxy.go.
func WarnOnce(key, msg string, p Pairs) {
	if _, loaded := warnedOnce.LoadOrStore(key, struct{}{}); loaded {
		return
	}
	Warn(msg, p)
}
