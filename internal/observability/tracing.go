package observability

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/signalsfoundry/parcel-positioning/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	defaultServiceName  = "parcel-positioning"
	defaultOTLPEndpoint = "localhost:4317"
	serviceNamespace    = "parcel"
)

// TracingConfig is the tracing section of the config file, overridable with
// PARCEL_TRACING_* variables.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Exporter    string  `mapstructure:"exporter"` // see ExporterNames
	Endpoint    string  `mapstructure:"endpoint"` // otlp only
	SampleRatio float64 `mapstructure:"sample_ratio"`

	// Attributes are attached to the trace resource next to service.name.
	// Keys without a dot are placed under the parcel. namespace.
	Attributes map[string]string `mapstructure:"attributes"`

	// Writer receives stdout exporter output; defaults to os.Stdout.
	Writer io.Writer `mapstructure:"-"`
}

type exporterFactory func(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error)

var exporters = map[string]exporterFactory{
	"stdout": newStdoutExporter,
	"otlp":   newOTLPExporter,
}

// ExporterNames lists the accepted values of TracingConfig.Exporter. An
// empty Exporter selects stdout.
func ExporterNames() []string {
	return slices.Sorted(maps.Keys(exporters))
}

func lookupExporter(name string) (exporterFactory, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "stdout"
	}
	f, ok := exporters[name]
	return f, ok
}

// ValidExporter reports whether name selects a known exporter.
func ValidExporter(name string) bool {
	_, ok := lookupExporter(name)
	return ok
}

func newStdoutExporter(_ context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	return stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
		stdouttrace.WithoutTimestamps(),
	)
}

func newOTLPExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOTLPEndpoint
	}
	return otlptrace.New(ctx, otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	))
}

// resourceAttributes flattens the config into resource attributes, sorted by
// key. service.name and service.namespace cannot be overridden.
func (c TracingConfig) resourceAttributes() []attribute.KeyValue {
	service := c.ServiceName
	if service == "" {
		service = defaultServiceName
	}
	attrs := []attribute.KeyValue{
		attribute.String("service.name", service),
		attribute.String("service.namespace", serviceNamespace),
	}
	for _, k := range slices.Sorted(maps.Keys(c.Attributes)) {
		key := k
		if !strings.Contains(key, ".") {
			key = serviceNamespace + "." + key
		}
		if key == "service.name" || key == "service.namespace" {
			continue
		}
		attrs = append(attrs, attribute.String(key, c.Attributes[k]))
	}
	return attrs
}

// InitTracing installs the global tracer provider and propagators described
// by cfg and returns the function that flushes pending spans.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled; using noop tracer provider")
		return func(context.Context) error { return nil }, nil
	}

	factory, ok := lookupExporter(cfg.Exporter)
	if !ok {
		return nil, fmt.Errorf("unsupported tracing exporter %q (want one of %s)",
			cfg.Exporter, strings.Join(ExporterNames(), ", "))
	}
	exp, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}

	attrs := cfg.resourceAttributes()
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", attrs[0].Value.AsString()),
		logging.Float("sample_ratio", cfg.SampleRatio),
		logging.Int("resource_attributes", len(attrs)),
	)
	return tp.Shutdown, nil
}

// ShutdownWithTimeout flushes spans within five seconds and logs, rather
// than returns, any failure.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
