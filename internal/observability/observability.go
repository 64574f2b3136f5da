package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"log/slog"
)

var resource *sdkresource.Resource
var initResourcesOnce sync.Once
var initObserverOnce sync.Once

// Wrappers for the OpenTelemetry trace package, kept at package scope so
// callers don't need to import go.opentelemetry.io/otel/trace directly.
var WithAttributes = trace.WithAttributes
var SpanFromContext = trace.SpanFromContext

// ObserverInterface is the capability port every component reaches spans
// and the tracer through. Production wiring points it at an OTLP exporter;
// tests and local runs fall back to a stdout exporter.
type ObserverInterface interface {
	Shutdown(ctx context.Context) error
	Tracer(name string) trace.Tracer
	CreateSpan(ctx context.Context, name string) (context.Context, trace.Span)
}

type observer struct {
	tp *sdktrace.TracerProvider
}

var oi *observer

// NewLocalObserver initializes a stdout-backed tracer provider, suitable
// for local development and tests.
func NewLocalObserver() ObserverInterface {
	initObserverOnce.Do(func() {
		tp, _ := initStdoutProvider()
		oi = &observer{tp: tp}
	})
	return oi
}

// NewObserver creates the process-wide observer, pointed at an OTLP
// collector when address is non-empty, otherwise falling back to stdout.
func NewObserver(address string) (ObserverInterface, error) {
	var tp *sdktrace.TracerProvider
	var err error
	initObserverOnce.Do(func() {
		if address == "" {
			tp, err = initStdoutProvider()
		} else {
			tp, err = initTracerProvider(address)
		}
		oi = &observer{tp: tp}
	})
	return oi, err
}

// Observer returns the process-wide observer, auto-initializing a local
// one rather than panicking if nothing has been configured yet.
func Observer() ObserverInterface {
	if oi == nil {
		return NewLocalObserver()
	}
	return oi
}

func (o *observer) Shutdown(ctx context.Context) error {
	return o.tp.Shutdown(ctx)
}

func (o *observer) Tracer(name string) trace.Tracer {
	return o.tp.Tracer(name)
}

// CreateSpan starts a child span named after the calling operation, using
// the request route as the tracer name when one is attached to the context.
func (o *observer) CreateSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	tracerName := "alignments"
	if route, ok := ctx.Value(routeContextKey{}).(string); ok && route != "" {
		tracerName = route
	}
	tracer := otel.GetTracerProvider().Tracer(tracerName)
	return tracer.Start(ctx, name)
}

type routeContextKey struct{}

// WithRoute annotates ctx with the HTTP route pattern so CreateSpan can
// group spans the way the teacher grouped them by gRPC full method.
func WithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, routeContextKey{}, route)
}

// HTTPMiddleware wraps an http.Handler with request tracing and structured
// access logging, the HTTP-surface analogue of the teacher's gRPC unary
// interceptor.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithRoute(r.Context(), r.Method+" "+r.URL.Path)
		tracer := Observer().Tracer("alignments.http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r.WithContext(ctx))

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
			attribute.Int("http.status_code", rw.status),
		)
		if rw.status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("http %d", rw.status))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		slog.InfoContext(ctx, "http request handled",
			"method", r.Method, "path", r.URL.Path, "status", rw.status)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func initResource() *sdkresource.Resource {
	initResourcesOnce.Do(func() {
		extraResources, _ := sdkresource.New(
			context.Background(),
			sdkresource.WithOS(),
			sdkresource.WithProcess(),
			sdkresource.WithHost(),
			sdkresource.WithAttributes(
				attribute.String("service.name", "alignments"),
				attribute.String("service.namespace", "tower-alignments"),
				attribute.String("application.version", "0.1.0"),
			),
		)
		resource, _ = sdkresource.Merge(sdkresource.Default(), extraResources)
	})
	return resource
}

func initStdoutProvider() (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("init stdout trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(initResource()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}

func initTracerProvider(address string) (*sdktrace.TracerProvider, error) {
	if address == "" {
		return nil, fmt.Errorf("address is required")
	}
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracegrpc.New(context.Background(), otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(initResource()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}
