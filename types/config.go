package types

import (
	"log"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the engine's cross-cutting settings, following the
// teacher's types.Config/Option pattern (bittoy-rule types/config.go,
// types/options.go): a struct with sensible defaults, built up through
// functional options rather than a constructor with a long parameter list.
type Config struct {
	// Logger receives diagnostic output (dropped changes, type mismatches
	// during apply, ...). Defaults to a stderr *log.Logger, matching the
	// teacher's bare stdlib logging.
	Logger *log.Logger

	// SubjectFactory constructs an attached subject of a declared type
	// (spec.md §6). The protocol package does not read this field:
	// NewApplier, NewServer and NewClient take their factory as an argument.
	SubjectFactory SubjectFactory

	// PathProvider maps a property to a connector-specific path segment,
	// or reports the property excluded from a given bridge (spec.md §6).
	// NewMQTTBridge takes its PathProvider as an argument and does not read
	// this field.
	PathProvider PathProvider

	// Clock is used everywhere a PropertyChange timestamp or protocol
	// deadline is computed, so tests can supply a deterministic one.
	Clock func() time.Time

	// MetricsRegisterer receives the package's prometheus collectors.
	// NewConfig defaults it to prometheus.DefaultRegisterer; a nil value
	// (WithMetricsRegisterer(nil)) registers no collectors at all.
	MetricsRegisterer prometheus.Registerer
}

// Option configures a Config, mirroring types.Option in the teacher.
type Option func(*Config)

// NewConfig builds a Config from options, filling in defaults for anything
// left unset — the same shape as the teacher's engine.NewConfig.
func NewConfig(opts ...Option) Config {
	c := Config{
		Logger:            log.New(os.Stderr, "interceptor: ", log.LstdFlags),
		Clock:             time.Now,
		MetricsRegisterer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option { return func(c *Config) { c.Logger = l } }

// WithSubjectFactory overrides the default SubjectFactory.
func WithSubjectFactory(f SubjectFactory) Option { return func(c *Config) { c.SubjectFactory = f } }

// WithPathProvider overrides the default PathProvider.
func WithPathProvider(p PathProvider) Option { return func(c *Config) { c.PathProvider = p } }

// WithClock overrides the default wall clock, primarily for tests.
func WithClock(clock func() time.Time) Option { return func(c *Config) { c.Clock = clock } }

// WithMetricsRegisterer overrides the prometheus registerer collectors are
// registered against.
func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return func(c *Config) { c.MetricsRegisterer = r }
}
