// Package config loads parcel-sim settings from an optional YAML file,
// PARCEL_* environment variables and built-in defaults.
package config

import (
	"errors"
	"io"
	"maps"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/parcel-positioning/internal/logging"
	"github.com/signalsfoundry/parcel-positioning/internal/observability"
	"github.com/signalsfoundry/parcel-positioning/internal/positioning"
)

// EnvPrefix is prepended to every environment override, with nested keys
// joined by underscores: PARCEL_POSITIONING_PLANE_TIMEOUT=12s.
const EnvPrefix = "PARCEL"

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "parcel.yaml"

// Config is the complete runtime configuration.
type Config struct {
	Positioning positioning.Config          `mapstructure:"positioning"`
	Log         LogConfig                   `mapstructure:"log"`
	Tracing     observability.TracingConfig `mapstructure:"tracing"`
	Metrics     MetricsConfig               `mapstructure:"metrics"`
	Replay      ReplayConfig                `mapstructure:"replay"`
}

// LogConfig selects the logging backend.
type LogConfig struct {
	Backend   string `mapstructure:"backend"` // slog | zap
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"` // text | json
	AddSource bool   `mapstructure:"add_source"`
}

// Logger builds the configured logger writing to out.
func (c LogConfig) Logger(out io.Writer) logging.Logger {
	return logging.New(logging.Config{
		Backend:   c.Backend,
		Level:     c.Level,
		Format:    c.Format,
		AddSource: c.AddSource,
		Output:    out,
	})
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
}

// ReplayConfig tunes scenario replays.
type ReplayConfig struct {
	// Tick is the simulated step of a deterministic replay.
	Tick time.Duration `mapstructure:"tick"`
	// PollInterval is how often the live engine checks for due deadlines.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// setDefaults registers every key. AutomaticEnv only resolves keys viper
// already knows about, so each field needs a default here.
func setDefaults(v *viper.Viper) {
	p := positioning.DefaultConfig()
	v.SetDefault("positioning.skip", []string{})
	v.SetDefault("positioning.set_tolerance_m", p.SetTolerance)
	v.SetDefault("positioning.projector", p.Projector)
	v.SetDefault("positioning.geo_anchor.availability_timeout", p.GeoAnchor.AvailabilityTimeout)
	v.SetDefault("positioning.geo_anchor.resolve_timeout", p.GeoAnchor.ResolveTimeout)
	v.SetDefault("positioning.geo_anchor.max_horizontal_accuracy_m", p.GeoAnchor.MaxHorizontalAccuracy)
	v.SetDefault("positioning.plane.timeout", p.Plane.Timeout)
	v.SetDefault("positioning.plane.min_area_m2", p.Plane.MinArea)
	v.SetDefault("positioning.plane.min_normal_dot", p.Plane.MinNormalDot)
	v.SetDefault("positioning.plane.fit_fraction", p.Plane.FitFraction)
	v.SetDefault("positioning.marker.timeout", p.Marker.Timeout)
	v.SetDefault("positioning.marker.min_interval", p.Marker.MinInterval)
	v.SetDefault("positioning.marker.min_confidence", p.Marker.MinConfidence)
	v.SetDefault("positioning.marker.min_box_size", p.Marker.MinBoxSize)
	v.SetDefault("positioning.compass.max_accuracy_deg", p.Compass.MaxAccuracy)
	v.SetDefault("positioning.compass.await_bearing", p.Compass.AwaitBearing)
	v.SetDefault("positioning.compass.forward_distance_m", p.Compass.ForwardDistance)
	v.SetDefault("positioning.compass.drop_below_m", p.Compass.DropBelow)
	v.SetDefault("positioning.compass.smoothing", p.Compass.Smoothing)
	v.SetDefault("positioning.compass.min_rotation_delta_deg", p.Compass.MinRotationDelta)
	v.SetDefault("positioning.manual.min_separation_m", p.Manual.MinSeparation)

	v.SetDefault("log.backend", "slog")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.add_source", false)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "parcel-positioning")
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("replay.tick", 10*time.Millisecond)
	v.SetDefault("replay.poll_interval", 50*time.Millisecond)
}

// Load reads path, or DefaultFile from the working directory when path is
// empty, applies environment overrides and validates the result. A missing
// default file is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, ".yaml"))
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, eris.Wrapf(err, "config: read %q", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "config: invalid")
	}
	return &cfg, nil
}

// Default returns the configuration Load produces with no file and no
// environment overrides.
func Default() *Config {
	return &Config{
		Positioning: positioning.DefaultConfig(),
		Log:         LogConfig{Backend: "slog", Level: "info", Format: "text"},
		Tracing: observability.TracingConfig{
			ServiceName: "parcel-positioning",
			Exporter:    "stdout",
			Endpoint:    "localhost:4317",
			SampleRatio: 1,
		},
		Metrics: MetricsConfig{Path: "/metrics"},
		Replay:  ReplayConfig{Tick: 10 * time.Millisecond, PollInterval: 50 * time.Millisecond},
	}
}

// TracingSetup returns the tracing section with the positioning setup added
// to the resource attributes. Keys already set in tracing.attributes win.
func (c *Config) TracingSetup() observability.TracingConfig {
	tc := c.Tracing
	attrs := map[string]string{
		"projector": c.Positioning.Projector,
		"skip":      strings.Join(c.Positioning.Skip, ","),
	}
	maps.Copy(attrs, c.Tracing.Attributes)
	tc.Attributes = attrs
	return tc
}

// Validate checks every section.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Positioning.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Backend) {
	case "", "slog", "zap":
	default:
		errs = append(errs, eris.Errorf("log.backend must be slog or zap, got %q", c.Log.Backend))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, eris.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Tracing.Enabled && !observability.ValidExporter(c.Tracing.Exporter) {
		errs = append(errs, eris.Errorf("tracing.exporter must be one of %s, got %q",
			strings.Join(observability.ExporterNames(), ", "), c.Tracing.Exporter))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, eris.Errorf("tracing.sample_ratio must be in [0, 1], got %g", c.Tracing.SampleRatio))
	}
	if c.Metrics.Addr != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, eris.Errorf("metrics.path must start with /, got %q", c.Metrics.Path))
	}
	if c.Replay.Tick <= 0 {
		errs = append(errs, eris.Errorf("replay.tick must be positive, got %s", c.Replay.Tick))
	}
	if c.Replay.PollInterval <= 0 {
		errs = append(errs, eris.Errorf("replay.poll_interval must be positive, got %s", c.Replay.PollInterval))
	}
	return errors.Join(errs...)
}
