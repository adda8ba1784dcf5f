package dispatch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"

	"github.com/kaleido-labs/relay-go/stats"
)

// Doer dispatches a logical request. Both *Dispatcher and *Breaker satisfy
// it, so breakers stack over dispatchers transparently.
type Doer interface {
	Do(ctx context.Context, req *http.Request, opts ...CallOption) (*http.Response, error)
}

var (
	_ Doer = (*Dispatcher)(nil)
	_ Doer = (*Breaker)(nil)
)

// BreakerClassifier decides whether an outcome counts as a failure toward
// tripping the circuit.
type BreakerClassifier func(resp *http.Response, err error) bool

// DefaultBreakerClassifier counts 5xx responses and I/O failures. Rate
// limiting (429) is left to the retry policy rather than the breaker, and a
// call the caller canceled proves nothing about the service.
func DefaultBreakerClassifier(resp *http.Response, err error) bool {
	if err != nil {
		kind, ok := KindOf(err)
		return ok && kind == KindIOFailure
	}
	return resp != nil && resp.StatusCode >= 500
}

// BreakerConfig configures a per-service circuit breaker.
type BreakerConfig struct {
	// MaxRequests is the number of probe requests allowed through a
	// half-open circuit. Zero allows one.
	MaxRequests uint32

	// Interval is the cyclic period over which the closed-state counts
	// reset. Zero keeps counts forever.
	Interval time.Duration

	// Timeout is how long the circuit stays open before probing. Defaults
	// to 10 seconds.
	Timeout time.Duration

	// FailureThreshold is the minimum number of requests before the failure
	// ratio can trip the circuit.
	FailureThreshold uint32

	// FailureRatio trips the circuit when failures/requests reaches it.
	FailureRatio float64

	// ConsecutiveFailures trips the circuit immediately when reached.
	// Zero disables the rule.
	ConsecutiveFailures uint32

	// Store shares breaker state across processes. Nil keeps it local.
	Store gobreaker.SharedDataStore

	// Classifier decides which outcomes count as failures.
	// Defaults to DefaultBreakerClassifier.
	Classifier BreakerClassifier

	// OnStateChange is invoked on circuit state transitions.
	OnStateChange func(service string, from, to gobreaker.State)

	// Fallback, when set, answers a call rejected by an open circuit
	// instead of the rejection error surfacing.
	Fallback func(ctx context.Context, req *http.Request) (*http.Response, error)
}

// DefaultBreakerConfig returns a local breaker tuned for service calls:
// counts reset every 10s, a tripped circuit probes after 10s, and the
// circuit trips on five consecutive failures or a 50% failure rate over at
// least twenty requests.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		FailureThreshold:    20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// NewRedisStore adapts a Redis client into a shared breaker state store, so
// one instance tripping the circuit for a service stops the whole fleet.
func NewRedisStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// ErrCircuitOpen is returned when the service's circuit is open and no
// fallback is configured.
var ErrCircuitOpen = gobreaker.ErrOpenState

// errTrippedResponse signals the breaker that a response counted as a
// failure even though transport execution succeeded. It never escapes Do.
var errTrippedResponse = errors.New("response classified as failure")

// ignoredError carries an error the classifier declined to count against
// the circuit, so the breaker records the call as a success instead of
// gobreaker's default err != nil accounting. It never escapes Do.
type ignoredError struct{ err error }

func (e *ignoredError) Error() string { return e.err.Error() }
func (e *ignoredError) Unwrap() error { return e.err }

// Breaker wraps a Doer with one circuit breaker per service name.
//
//	b := dispatch.NewBreaker(d, dispatch.DefaultBreakerConfig())
//	resp, err := b.Do(ctx, req)
//
// With a shared store the breaker state is distributed; creation failures
// fall back to a local breaker so the service keeps process-level
// protection.
type Breaker struct {
	next   Doer
	cfg    BreakerConfig
	logger zerolog.Logger

	recorder Recorder

	breakers sync.Map // service name -> *serviceBreaker
}

// NewBreaker wraps next with per-service circuit breaking.
func NewBreaker(next Doer, cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	if cfg.Classifier == nil {
		cfg.Classifier = DefaultBreakerClassifier
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	b := &Breaker{
		next:     next,
		cfg:      cfg,
		logger:   zerolog.Nop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerLogger sets the logger for state transitions and rejections.
func WithBreakerLogger(logger zerolog.Logger) BreakerOption {
	return func(b *Breaker) { b.logger = logger }
}

// WithBreakerRecorder reports circuit rejections to a statistics recorder,
// so rejected calls still weigh against the service.
func WithBreakerRecorder(r Recorder) BreakerOption {
	return func(b *Breaker) { b.recorder = r }
}

// ServiceOptions delegates to the wrapped Doer, so typed clients stacked on
// a Breaker still see the dispatcher's resolved options.
func (b *Breaker) ServiceOptions(service string) Options {
	if src, ok := b.next.(OptionsSource); ok {
		return src.ServiceOptions(service)
	}
	return defaultOptions()
}

// Do dispatches through the service's circuit. A rejected call returns
// ErrCircuitOpen unless a fallback is configured.
func (b *Breaker) Do(ctx context.Context, req *http.Request, opts ...CallOption) (*http.Response, error) {
	if req.URL == nil || req.URL.Host == "" {
		return b.next.Do(ctx, req, opts...)
	}
	service := req.URL.Host
	cb := b.breakerFor(service)

	resp, err := cb.Execute(func() (*http.Response, error) {
		resp, err := b.next.Do(ctx, req, opts...)
		if b.cfg.Classifier(resp, err) {
			if err != nil {
				return resp, err
			}
			return resp, errTrippedResponse
		}
		if err != nil {
			// A canceled or unroutable call says nothing about the
			// service; keep it out of the failure counts.
			return resp, &ignoredError{err: err}
		}
		return resp, nil
	})

	var ignored *ignoredError
	if errors.As(err, &ignored) {
		return resp, ignored.err
	}
	if errors.Is(err, errTrippedResponse) {
		return resp, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.Warn().Str("service", service).Msg("circuit rejected call")
		b.recorder.Observe(stats.Outcome{
			Service:   service,
			Success:   false,
			ErrorKind: "circuit_open",
		})
		if b.cfg.Fallback != nil {
			return b.cfg.Fallback(ctx, req)
		}
		return nil, err
	}
	return resp, err
}

func (b *Breaker) breakerFor(service string) *serviceBreaker {
	if cached, ok := b.breakers.Load(service); ok {
		return cached.(*serviceBreaker)
	}
	created := b.newServiceBreaker(service)
	actual, _ := b.breakers.LoadOrStore(service, created)
	return actual.(*serviceBreaker)
}

// serviceBreaker narrows the two gobreaker variants to the Execute calls
// the Breaker needs.
type serviceBreaker struct {
	execute func(func() (*http.Response, error)) (*http.Response, error)
}

func (s *serviceBreaker) Execute(op func() (*http.Response, error)) (*http.Response, error) {
	return s.execute(op)
}

func (b *Breaker) newServiceBreaker(service string) *serviceBreaker {
	cfg := b.cfg
	st := gobreaker.Settings{
		Name:        service,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var ignored *ignoredError
			return errors.As(err, &ignored)
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 &&
				counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureThreshold > 0 && counts.Requests < cfg.FailureThreshold {
				return false
			}
			if cfg.FailureRatio > 0 && counts.TotalFailures > 0 {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= cfg.FailureRatio
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Info().
				Str("service", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit state changed")
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	}

	if cfg.Store != nil {
		dcb, err := gobreaker.NewDistributedCircuitBreaker[*http.Response](cfg.Store, st)
		if err == nil {
			return &serviceBreaker{execute: dcb.Execute}
		}
		// A shared store that cannot initialize still leaves local
		// protection in place.
		b.logger.Warn().Err(err).Str("service", service).
			Msg("distributed breaker unavailable, using local breaker")
	}
	cb := gobreaker.NewCircuitBreaker[*http.Response](st)
	return &serviceBreaker{execute: cb.Execute}
}
