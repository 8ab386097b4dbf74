// Command proxy starts the forward HTTP/HTTPS MITM caching proxy: it loads
// configuration, wires the cache, resolver, fetcher, certificate minter,
// plain-HTTP handler and MITM engine around a shared mutex, and runs the
// connection dispatcher alongside the admin diagnostics server and a
// dedicated Prometheus metrics listener. Command-line startup itself is
// outside the proxy's core scope; this is the thin wiring a complete,
// runnable module still needs.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mitmcache/proxy/internal/admin"
	"github.com/mitmcache/proxy/internal/cache"
	"github.com/mitmcache/proxy/internal/certs"
	"github.com/mitmcache/proxy/internal/classifier"
	"github.com/mitmcache/proxy/internal/config"
	"github.com/mitmcache/proxy/internal/dispatcher"
	"github.com/mitmcache/proxy/internal/proxy/fetch"
	"github.com/mitmcache/proxy/internal/proxy/mitm"
	"github.com/mitmcache/proxy/internal/proxy/plainhttp"
	"github.com/mitmcache/proxy/internal/resolver"
	"github.com/mitmcache/proxy/internal/util/log"
	"github.com/mitmcache/proxy/internal/util/tracing"
)

const (
	applicationName    = "mitmcache-proxy"
	applicationVersion = "1.0.0"
)

func main() {
	cfg, err := config.Load(applicationName, applicationVersion, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}

	log.Init(cfg.Logging.LogLevel, cfg.Logging.LogFile)

	tracerImpl, ok := tracing.TracerImplementations[cfg.Tracing.Implementation]
	if !ok {
		tracerImpl = tracing.StdoutTracerImplementation
	}
	closeTracer, err := tracing.SetTracer(tracerImpl, cfg.Tracing.CollectorEndpoint, cfg.Tracing.ServiceName)
	if err != nil {
		log.Error("tracer init failed", log.Pairs{"error": err.Error()})
		os.Exit(1)
	}
	defer closeTracer()

	c := cache.New(cache.Config{
		Capacity:      cfg.Cache.Capacity,
		Compress:      cfg.Cache.Compression,
		MaxEntryBytes: cfg.Cache.MaxEntryBytes,
	})

	minter := certs.New(cfg.Certs.WorkingDir, cfg.Certs.TTLDays)
	f := fetch.New(resolver.New())

	// No external URL-reputation command is wired up yet (§6 is out of
	// core scope); cfg.Classifier.Enabled is read so operators can see
	// the knob is a no-op until a real Classifier ships.
	var cls classifier.Classifier = classifier.NoOp{}
	if cfg.Classifier != nil && cfg.Classifier.Enabled {
		log.Warn("classifier.enabled is set but no external classifier is wired; falling back to NoOp", log.Pairs{"command": cfg.Classifier.Command})
	}

	var cacheMu sync.Mutex
	plain := plainhttp.New(c, &cacheMu, f, cls)
	mitmEngine := mitm.New(c, &cacheMu, minter, f, cls)

	d := dispatcher.New(dispatcher.Config{
		ListenAddress:  cfg.Listener.ListenAddress,
		ListenPort:     cfg.Listener.ListenPort,
		MaxConnections: cfg.Listener.MaxConnections,
	}, c, plain, mitmEngine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adminServer := &admin.Server{Cache: c, Config: cfg}
	go serveHTTP("admin", cfg.Admin.ListenAddress, cfg.Admin.ListenPort, adminServer.Router())
	go serveHTTP("metrics", cfg.Metrics.ListenAddress, cfg.Metrics.ListenPort, promhttp.Handler())

	go func() {
		if err := d.ListenAndServe(ctx); err != nil {
			log.Error("dispatcher stopped", log.Pairs{"error": err.Error()})
		}
	}()

	log.Info("proxy started", log.Pairs{
		"listenAddress": cfg.Listener.ListenAddress,
		"listenPort":    cfg.Listener.ListenPort,
	})

	waitForShutdown()
	cancel()
}

// serveHTTP runs a loopback HTTP server until the process exits, logging
// (not exiting) on failure so the admin/metrics surfaces are best-effort
// alongside the core dispatcher.
func serveHTTP(name, address string, port int, handler http.Handler) {
	addr := net.JoinHostPort(address, strconv.Itoa(port))
	log.Info(name+" listening", log.Pairs{"address": addr})
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Error(name+" server stopped", log.Pairs{"error": err.Error()})
	}
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
