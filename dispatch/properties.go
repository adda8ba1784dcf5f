package dispatch

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Millis is a duration expressed as integer milliseconds in YAML, matching
// the connectTimeoutMs/readTimeoutMs configuration keys.
type Millis time.Duration

// Duration converts to a time.Duration.
func (m Millis) Duration() time.Duration {
	return time.Duration(m)
}

// MillisOf wraps a time.Duration for use in a Properties tier.
func MillisOf(d time.Duration) *Millis {
	m := Millis(d)
	return &m
}

// UnmarshalYAML implements yaml.Unmarshaler, reading an integer millisecond
// count.
func (m *Millis) UnmarshalYAML(value *yaml.Node) error {
	var ms int64
	if err := value.Decode(&ms); err != nil {
		return fmt.Errorf("dispatch: invalid millisecond value: %w", err)
	}
	*m = Millis(time.Duration(ms) * time.Millisecond)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (m Millis) MarshalYAML() (interface{}, error) {
	return time.Duration(m).Milliseconds(), nil
}

// Properties is one tier of per-service configuration.
//
// Every field is optional: a nil pointer (or nil slice) means "not set" and
// falls through to the lower-precedence tier, which is distinct from an
// explicit zero. An explicitly empty, non-nil interceptor slice means "set to
// none" and still contributes nothing, since interceptor lists append across
// tiers rather than replace.
//
// The YAML keys match the externally supplied configuration format:
//
//	connectTimeoutMs: 2000
//	readTimeoutMs: 5000
//	loggerLevel: debug
//	retryPolicy:
//	  maxRetries: 3
//	decode404AsEmpty: true
type Properties struct {
	// ConnectTimeout bounds connection establishment.
	ConnectTimeout *Millis `yaml:"connectTimeoutMs,omitempty"`

	// ReadTimeout bounds a single attempt end to end.
	ReadTimeout *Millis `yaml:"readTimeoutMs,omitempty"`

	// LogLevel sets the per-service log level ("debug", "info", ...).
	LogLevel *string `yaml:"loggerLevel,omitempty"`

	// Retry configures the retry policy wrapped around transport execution.
	Retry *RetryConfig `yaml:"retryPolicy,omitempty"`

	// Decode404 makes a not-found response a successful empty result instead
	// of an error.
	Decode404 *bool `yaml:"decode404AsEmpty,omitempty"`

	// ErrorDecoder maps non-2xx responses to errors in the typed client.
	// Not representable in YAML; supplied from code.
	ErrorDecoder ErrorDecoder `yaml:"-"`

	// Interceptors run against the physical request before execution.
	// Appended across tiers, never replaced. Not representable in YAML.
	Interceptors []Interceptor `yaml:"-"`
}

// Options is the fully resolved configuration governing dispatch for one
// service name. Once resolved it is cached and treated as immutable; a
// dispatch call always sees one consistent snapshot.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	LogLevel       zerolog.Level
	Retry          *RetryConfig
	Decode404      bool
	ErrorDecoder   ErrorDecoder
	Interceptors   []Interceptor
}

// Default timeouts applied when no tier sets them.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 15 * time.Second
)

// defaultOptions is the code-level bottom of the precedence chain.
func defaultOptions() Options {
	return Options{
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
		LogLevel:       zerolog.InfoLevel,
	}
}

// mergeOptions folds the given tiers over the built-in defaults, in order.
// A field present in a later tier replaces the value from an earlier one;
// absent fields fall through. Interceptor lists are appended in tier order.
func mergeOptions(tiers ...Properties) Options {
	opts := defaultOptions()
	for _, tier := range tiers {
		applyProperties(&opts, tier)
	}
	return opts
}

func applyProperties(opts *Options, p Properties) {
	if p.ConnectTimeout != nil {
		opts.ConnectTimeout = p.ConnectTimeout.Duration()
	}
	if p.ReadTimeout != nil {
		opts.ReadTimeout = p.ReadTimeout.Duration()
	}
	if p.LogLevel != nil {
		if lvl, err := zerolog.ParseLevel(*p.LogLevel); err == nil {
			opts.LogLevel = lvl
		}
	}
	if p.Retry != nil {
		retry := *p.Retry
		opts.Retry = &retry
	}
	if p.Decode404 != nil {
		opts.Decode404 = *p.Decode404
	}
	if p.ErrorDecoder != nil {
		opts.ErrorDecoder = p.ErrorDecoder
	}
	// Interceptors are additive across tiers. A non-nil empty slice is
	// "explicitly none" and appends nothing, same as absent.
	opts.Interceptors = append(opts.Interceptors, p.Interceptors...)
}
