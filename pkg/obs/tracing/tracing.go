// Package tracing wires OpenTelemetry for the object server: OTLP span
// export behind a config flag and an HTTP middleware that opens one server
// span per S3 request.
package tracing

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Options controls tracing initialization.
type Options struct {
	Enabled     bool
	Endpoint    string  // OTLP collector, host:port or URL
	Protocol    string  // "grpc" (default) or "http"
	SampleRatio float64 // 0.0 - 1.0
	ServiceName string  // default "fily"
}

// Init installs the global tracer provider and propagators per opt and
// returns a shutdown function for graceful termination. A disabled config
// installs a no-op provider so instrumented code needs no nil checks.
func Init(ctx context.Context, opt Options) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	if !opt.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	provOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(newResource(ctx, opt.ServiceName)),
		sdktrace.WithSampler(samplerFor(opt.SampleRatio)),
	}
	if exp := newExporter(ctx, opt); exp != nil {
		provOpts = append(provOpts, sdktrace.WithBatcher(exp,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		))
	}
	tp := sdktrace.NewTracerProvider(provOpts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func newResource(ctx context.Context, service string) *resource.Resource {
	if strings.TrimSpace(service) == "" {
		service = "fily"
	}
	res, err := resource.New(ctx,
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithHost(),
		resource.WithAttributes(attribute.String("service.name", service)),
	)
	if err != nil {
		slog.Warn("tracing: resource init failed", slog.String("error", err.Error()))
		return resource.Empty()
	}
	return res
}

// newExporter builds the OTLP exporter for opt, or nil when no endpoint is
// configured or the exporter cannot be constructed. Spans then stay local.
func newExporter(ctx context.Context, opt Options) sdktrace.SpanExporter {
	endpoint := strings.TrimSpace(opt.Endpoint)
	if endpoint == "" {
		slog.Info("tracing: enabled without endpoint; spans will not be exported")
		return nil
	}
	insecure := plaintextEndpoint(endpoint)
	endpoint = stripScheme(endpoint)

	switch strings.ToLower(strings.TrimSpace(opt.Protocol)) {
	case "http", "otlphttp", "otlp-http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			slog.Error("tracing: otlp http exporter init failed", slog.String("error", err.Error()))
			return nil
		}
		return exp
	default: // grpc
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			slog.Error("tracing: otlp grpc exporter init failed", slog.String("error", err.Error()))
			return nil
		}
		return exp
	}
}

func samplerFor(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1.0:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// Middleware opens a server span around every S3 request. Health and
// metrics paths are skipped to keep health-check noise out of the trace backend.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/livez", "/readyz", "/metrics":
			next.ServeHTTP(w, r)
			return
		}

		tracer := otel.Tracer("fily/http")
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.EscapedPath(),
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r.WithContext(ctx))

		// Bucket and key stay out of span names; low-cardinality
		// attributes only, without dragging in semconv.
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.RequestURI()),
			attribute.Int("http.status_code", sw.status),
			attribute.String("net.peer.ip", clientIP(r)),
			attribute.String("user_agent.original", r.UserAgent()),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

// statusWriter records the status code a handler wrote.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// plaintextEndpoint reports whether the collector should be dialed without
// TLS: an explicit http:// scheme or a loopback target.
func plaintextEndpoint(endpoint string) bool {
	ep := strings.ToLower(endpoint)
	return strings.HasPrefix(ep, "http://") ||
		strings.Contains(ep, "localhost") ||
		strings.Contains(ep, "127.0.0.1")
}

// stripScheme drops an http/https prefix; the OTLP clients expect a bare
// host:port.
func stripScheme(endpoint string) string {
	for _, p := range []string{"http://", "https://"} {
		if strings.HasPrefix(strings.ToLower(endpoint), p) {
			return endpoint[len(p):]
		}
	}
	return endpoint
}

// clientIP extracts a best-effort client address, preferring the first
// X-Forwarded-For entry when a proxy fronts the server.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	return r.RemoteAddr
}
