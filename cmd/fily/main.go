package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	adminpkg "github.com/fritsstegmann/fily/pkg/admin"
	"github.com/fritsstegmann/fily/pkg/api/s3"
	"github.com/fritsstegmann/fily/pkg/config"
	"github.com/fritsstegmann/fily/pkg/crypto"
	"github.com/fritsstegmann/fily/pkg/metadata"
	"github.com/fritsstegmann/fily/pkg/obs/metrics"
	"github.com/fritsstegmann/fily/pkg/obs/tracing"
	"github.com/fritsstegmann/fily/pkg/scrub"
	adminoidc "github.com/fritsstegmann/fily/pkg/security/oidc"
	"github.com/fritsstegmann/fily/pkg/security/sigv4"
	"github.com/fritsstegmann/fily/pkg/storage"
)

var version = "0.1.0-dev"
var ready atomic.Bool

func main() {
	// Load config from FILY_CONFIG or ./config.yaml; defaults otherwise.
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	setupLogger(cfg.LogLevel)

	// Ensure the storage root exists.
	if err := config.EnsureLocation(cfg); err != nil {
		slog.Error("failed to ensure storage root", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize tracing (OpenTelemetry)
	traceShutdown, terr := tracing.Init(context.Background(), tracing.Options{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Protocol:    cfg.Tracing.Protocol,
		SampleRatio: cfg.Tracing.SampleRatio,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if terr != nil {
		slog.Warn("tracing init failed", slog.String("error", terr.Error()))
	}

	// Metrics: Prometheus /metrics endpoint and HTTP instrumentation
	m := metrics.New()
	sm := metrics.NewStorageMetrics(m.Registry())

	lfs, err := storage.NewLocalFS(cfg.Location)
	if err != nil {
		slog.Error("init storage", slog.String("error", err.Error()))
		os.Exit(1)
	}
	objs := metrics.NewInstrumentedStore(lfs, sm)
	meta := metadata.NewFSStore(lfs.Root())

	var engine *crypto.Engine
	if cfg.Encryption.Enabled {
		key, kerr := cfg.MasterKey()
		if kerr != nil {
			slog.Error("init encryption", slog.String("error", kerr.Error()))
			os.Exit(1)
		}
		engine, err = crypto.NewEngine(key)
		if err != nil {
			slog.Error("init encryption", slog.String("error", err.Error()))
			os.Exit(1)
		}
		slog.Info("encryption at rest enabled")
	}

	api := s3.New(objs, meta, engine, slog.Default())
	api.OnDecryptFailure(sm.ObserveDecryptFailure)

	handler := api.Handler()
	if len(cfg.Credentials) > 0 {
		creds := make([]sigv4.Credential, 0, len(cfg.Credentials))
		for _, c := range cfg.Credentials {
			creds = append(creds, sigv4.Credential{
				AccessKey: c.AccessKey,
				SecretKey: c.SecretKey,
				Region:    c.Region,
				User:      c.User,
			})
		}
		// Exempt health endpoints from auth
		exempt := func(r *http.Request) bool {
			switch r.URL.Path {
			case "/livez", "/readyz", "/metrics":
				return true
			default:
				return false
			}
		}
		handler = sigv4.Middleware(sigv4.MiddlewareConfig{
			Store:        sigv4.NewStaticStore(creds),
			MaxBodyBytes: cfg.Limits.SinglePutMaxBytes,
			Logger:       slog.Default(),
			Exempt:       exempt,
		})(handler)
		slog.Info("sigv4 auth enabled", slog.Int("credentials", len(creds)))
	} else {
		slog.Warn("no credentials configured; requests are unauthenticated")
	}
	// Tracing middleware
	handler = tracing.Middleware(handler)
	// Instrument S3 API with HTTP metrics
	handler = m.Middleware(handler)

	srv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      newRootHandler(handler, m.Handler(), &ready),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Background scrubber plus cleanup worker, controlled by config.
	var (
		scrubber      scrub.Scrubber
		scrubPollStop func()
		cleanupQ      scrub.CleanupQueue
		cleanupW      *scrub.Worker
		cleanupPoll   func()
		gcStop        context.CancelFunc
	)
	if cfg.Scrubber.Enabled {
		interval, ierr := time.ParseDuration(cfg.Scrubber.Interval)
		if ierr != nil || interval <= 0 {
			interval = time.Hour
		}
		tempMaxAge, aerr := time.ParseDuration(cfg.Scrubber.TempMaxAge)
		if aerr != nil || tempMaxAge <= 0 {
			tempMaxAge = time.Hour
		}
		cleanupQ = scrub.NewMemQueue(cfg.Cleanup.QueueCapacity)
		ss := scrub.NewSidecarScrubber(lfs.Root(), cleanupQ, scrub.Config{
			Interval:    interval,
			Concurrency: cfg.Scrubber.Concurrency,
			VerifyETag:  cfg.Scrubber.VerifyETag,
			TempMaxAge:  tempMaxAge,
		})
		_ = ss.Start(context.Background())
		scrubber = ss
		scrubPollStop = metrics.NewScrubberMetrics(m.Registry()).StartPolling(scrubber, 10*time.Second)

		if cfg.Cleanup.WorkerEnabled {
			cleanupW = scrub.NewWorker(cleanupQ, scrub.WorkerConfig{Concurrency: cfg.Cleanup.WorkerConcurrency})
			_ = cleanupW.Start(context.Background())
			cleanupPoll = metrics.NewCleanupMetrics(m.Registry()).StartPolling(cleanupW, 10*time.Second)
		}
	} else {
		// Without the scrubber, stale temp files are swept by a periodic GC.
		tempMaxAge, aerr := time.ParseDuration(cfg.Scrubber.TempMaxAge)
		if aerr != nil || tempMaxAge <= 0 {
			tempMaxAge = time.Hour
		}
		gcStop = adminpkg.StartTempGC(context.Background(), lfs.Root(), 15*time.Minute, tempMaxAge, slog.Default())
	}

	// Optional Admin server on separate port
	var adminSrv *http.Server
	if cfg.AdminAddress != "" {
		adminMux := http.NewServeMux()
		adminMux.HandleFunc("/admin/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			resp := map[string]any{
				"status":    "ok",
				"ready":     ready.Load(),
				"version":   version,
				"address":   cfg.ListenAddr(),
				"admin":     cfg.AdminAddress,
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			}
			_ = json.NewEncoder(w).Encode(resp)
		})
		adminMux.HandleFunc("/admin/version", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			resp := map[string]string{
				"version":   version,
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			}
			_ = json.NewEncoder(w).Encode(resp)
		})
		adminMux.Handle("/admin/scrub/stats", adminpkg.NewScrubberStatsHandler(scrubber))
		adminMux.Handle("/admin/scrub/run", adminpkg.NewScrubberRunHandler(scrubber))
		adminMux.Handle("/admin/cleanup/queue", adminpkg.NewCleanupQueueStatsHandler(cleanupQ))
		adminMux.Handle("/admin/cleanup/stats", adminpkg.NewCleanupWorkerStatsHandler(cleanupW))
		adminMux.Handle("/admin/cleanup/pause", adminpkg.NewCleanupWorkerPauseHandler(cleanupW))
		adminMux.Handle("/admin/cleanup/resume", adminpkg.NewCleanupWorkerResumeHandler(cleanupW))
		adminMux.Handle("/admin/gc/temp", adminpkg.NewTempGCHandler(lfs.Root()))

		adminHandler := http.Handler(adminMux)
		if cfg.OIDC.Enabled {
			v, verr := adminoidc.NewVerifier(context.Background(), adminoidc.Config{
				Issuer:   cfg.OIDC.Issuer,
				ClientID: cfg.OIDC.ClientID,
				Audience: cfg.OIDC.Audience,
			})
			if verr != nil {
				slog.Error("admin oidc init failed", slog.String("error", verr.Error()))
			} else {
				exempt := func(r *http.Request) bool {
					return cfg.OIDC.AllowUnauthHealth && r.URL.Path == "/admin/health"
				}
				// OIDC runs before RBAC so the subject is present for RBAC.
				adminHandler = adminoidc.RBAC(adminoidc.DefaultAdminPolicy())(adminHandler)
				adminHandler = adminoidc.Middleware(v, exempt)(adminHandler)
				slog.Info("admin oidc enabled", slog.Bool("allowUnauthHealth", cfg.OIDC.AllowUnauthHealth))
			}
		}

		adminSrv = &http.Server{
			Addr:         cfg.AdminAddress,
			Handler:      adminHandler,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		}
		go func() {
			slog.Info("admin listening", slog.String("addr", cfg.AdminAddress))
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("admin server error", slog.String("error", err.Error()))
				os.Exit(1)
			}
		}()
	}

	go func() {
		ready.Store(true)
		slog.Info("fily listening",
			slog.String("version", version),
			slog.String("addr", cfg.ListenAddr()),
			slog.String("location", lfs.Root()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ready.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", slog.String("error", err.Error()))
	}
	if adminSrv != nil {
		if err := adminSrv.Shutdown(ctx); err != nil {
			slog.Error("admin shutdown error", slog.String("error", err.Error()))
		}
	}
	if gcStop != nil {
		gcStop()
	}
	if scrubber != nil {
		_ = scrubber.Stop(ctx)
	}
	if scrubPollStop != nil {
		scrubPollStop()
	}
	if cleanupW != nil {
		_ = cleanupW.Stop(ctx)
	}
	if cleanupPoll != nil {
		cleanupPoll()
	}
	if cleanupQ != nil {
		_ = cleanupQ.Close()
	}
	if err := traceShutdown(ctx); err != nil {
		slog.Error("tracing shutdown error", slog.String("error", err.Error()))
	}
	slog.Info("fily stopped")
}

// newRootHandler dispatches the operational endpoints explicitly and hands
// everything else to the S3 handler with the request path untouched.
// http.ServeMux must not front the S3 routes: its path cleaning answers 301
// for any path containing ".." or "//" before authentication or key
// validation ever sees the request.
func newRootHandler(api, metricsHandler http.Handler, ready *atomic.Bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/livez":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		case "/readyz":
			if !ready.Load() {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		case "/metrics":
			metricsHandler.ServeHTTP(w, r)
		default:
			api.ServeHTTP(w, r)
		}
	})
}

func setupLogger(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}
