// Package dispatch routes logical HTTP requests to concrete endpoints.
//
// A logical request addresses a service by name ("http://orders/items/42").
// The dispatcher resolves the name through a registry, picks one endpoint
// via a load-balancing picker, rewrites the URL to the physical address, and
// executes the request with the service's resolved options: timeouts, retry
// policy, interceptors, and not-found decoding. Every attempt outcome feeds
// a statistics recorder so latency-aware pickers can steer future picks.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	mnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tnoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/kaleido-labs/relay-go/balancer"
	"github.com/kaleido-labs/relay-go/registry"
	"github.com/kaleido-labs/relay-go/stats"
)

// Recorder receives one Outcome per executed attempt. The stats.Recorder
// satisfies it; a no-op recorder is used when none is configured.
type Recorder interface {
	Observe(stats.Outcome)
}

type nopRecorder struct{}

func (nopRecorder) Observe(stats.Outcome) {}

// Dispatcher resolves service names to endpoints and executes requests.
//
// Construct with New and register services before dispatching:
//
//	d := dispatch.New(reg,
//	    dispatch.WithPicker(balancer.NewRoundRobin()),
//	    dispatch.WithRecorder(recorder),
//	)
//	d.RegisterClient("orders", dispatch.Properties{
//	    ReadTimeout: dispatch.MillisOf(2 * time.Second),
//	})
//
// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	reg      registry.Registry
	picker   balancer.Picker
	recorder Recorder
	store    *optionsStore

	// transport set by the caller; nil means the dispatcher builds its own
	// per connect timeout.
	transport  http.RoundTripper
	transports sync.Map // time.Duration -> *http.Transport

	mu    sync.RWMutex
	fixed map[string]*url.URL

	logger  zerolog.Logger
	tracer  trace.Tracer
	metrics *metrics
}

// Option configures a Dispatcher.
type Option func(*config)

type config struct {
	picker     balancer.Picker
	transport  http.RoundTripper
	recorder   Recorder
	logger     zerolog.Logger
	tracerProv trace.TracerProvider
	meterProv  metric.MeterProvider
	global     Properties
	preferCode bool
}

// WithPicker sets the load-balancing picker. Defaults to round-robin.
func WithPicker(p balancer.Picker) Option {
	return func(c *config) { c.picker = p }
}

// WithTransport sets the transport executing physical requests. When set,
// the transport owns connection establishment and the per-service connect
// timeout is not applied. Defaults to transports derived from
// http.DefaultTransport with per-service dial timeouts.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *config) { c.transport = rt }
}

// WithRecorder sets the statistics recorder fed with attempt outcomes.
func WithRecorder(r Recorder) Option {
	return func(c *config) { c.recorder = r }
}

// WithLogger sets the base logger. Per-service log levels from the resolved
// options are applied on top of it.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) { c.tracerProv = tp }
}

// WithMeterProvider sets the OpenTelemetry meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *config) { c.meterProv = mp }
}

// WithGlobalProperties sets the property tier applying to every service.
func WithGlobalProperties(p Properties) Option {
	return func(c *config) { c.global = p }
}

// WithPreferCodeDefaults flips the merge precedence so code-declared
// defaults from RegisterClient win over property tiers.
func WithPreferCodeDefaults() Option {
	return func(c *config) { c.preferCode = true }
}

// New creates a Dispatcher backed by the given registry.
func New(reg registry.Registry, opts ...Option) *Dispatcher {
	cfg := &config{
		picker:     balancer.NewRoundRobin(),
		recorder:   nopRecorder{},
		logger:     zerolog.Nop(),
		tracerProv: tnoop.NewTracerProvider(),
		meterProv:  mnoop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	m, err := newMetrics(cfg.meterProv.Meter("github.com/kaleido-labs/relay-go/dispatch"))
	if err != nil {
		cfg.logger.Warn().Err(err).Msg("metric instruments unavailable")
		m = nil
	}

	return &Dispatcher{
		reg:       reg,
		picker:    cfg.picker,
		recorder:  cfg.recorder,
		store:     newOptionsStore(cfg.global, cfg.preferCode),
		transport: cfg.transport,
		fixed:     make(map[string]*url.URL),
		logger:    cfg.logger,
		tracer:    cfg.tracerProv.Tracer("github.com/kaleido-labs/relay-go/dispatch"),
		metrics:   m,
	}
}

// RegisterClient declares the code-level default properties for a service.
// Calling it again replaces the previous defaults and invalidates the cached
// resolution.
func (d *Dispatcher) RegisterClient(service string, defaults Properties) {
	d.store.setCodeDefaults(service, defaults)
}

// RegisterServiceOverride sets the per-service property tier, typically
// loaded from configuration. Replaces any previous override.
func (d *Dispatcher) RegisterServiceOverride(service string, p Properties) {
	d.store.setOverride(service, p)
}

// RegisterFixedURL pins a service to a concrete base URL, bypassing the
// registry and the picker. The scheme defaults to http when absent; the path
// is normalized to start with "/" and not end with one. Options still
// resolve normally, so timeouts, retries, and interceptors apply.
func (d *Dispatcher) RegisterFixedURL(service, rawURL string) error {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	base, err := url.Parse(rawURL)
	if err != nil {
		return newError(KindMalformedTarget, service, err)
	}
	if base.Host == "" {
		return newError(KindMalformedTarget, service,
			errors.New("fixed URL has no host"))
	}
	base.Path = cleanPath(base.Path)

	d.mu.Lock()
	d.fixed[service] = base
	d.mu.Unlock()
	return nil
}

// cleanPath normalizes a base path: a lone "/" collapses to empty, anything
// else gains a leading slash and loses a trailing one.
func cleanPath(p string) string {
	p = strings.TrimSuffix(p, "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func (d *Dispatcher) fixedURL(service string) (*url.URL, bool) {
	d.mu.RLock()
	base, ok := d.fixed[service]
	d.mu.RUnlock()
	return base, ok
}

// ServiceOptions returns the resolved options for a service, building and
// caching them on first use.
func (d *Dispatcher) ServiceOptions(service string) Options {
	return d.store.resolve(service)
}

// CallOption overrides resolved options for a single Do call. Only timeouts
// are overridable per call; everything else comes from the registered tiers.
type CallOption func(*callConfig)

type callConfig struct {
	connectTimeout *time.Duration
	readTimeout    *time.Duration
}

// WithConnectTimeout overrides the connect timeout for one call.
func WithConnectTimeout(d time.Duration) CallOption {
	return func(c *callConfig) { c.connectTimeout = &d }
}

// WithReadTimeout overrides the read timeout for one call.
func WithReadTimeout(d time.Duration) CallOption {
	return func(c *callConfig) { c.readTimeout = &d }
}

// Do dispatches a logical request.
//
// The request URL's host is the service name. Do resolves the service,
// rewrites the URL to one endpoint's physical address, and executes the
// request, retrying per the service's retry policy. The caller's request is
// never mutated. Failures come back as *Error with a classified Kind.
//
// A 404 response under decode404AsEmpty is returned with a nil error and a
// drained body; callers treat it as an empty result.
func (d *Dispatcher) Do(ctx context.Context, req *http.Request, opts ...CallOption) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		d.recorder.Observe(stats.Outcome{
			Service:   hostOf(req.URL),
			ErrorKind: KindCanceled.String(),
		})
		return nil, newError(KindCanceled, hostOf(req.URL), err)
	}
	if req.URL == nil || req.URL.Host == "" {
		d.recorder.Observe(stats.Outcome{
			ErrorKind: KindMalformedTarget.String(),
		})
		return nil, newError(KindMalformedTarget, "",
			errors.New("request URL has no service authority"))
	}
	service := req.URL.Host

	resolved := d.store.resolve(service)
	var cc callConfig
	for _, opt := range opts {
		opt(&cc)
	}
	if cc.connectTimeout != nil {
		resolved.ConnectTimeout = *cc.connectTimeout
	}
	if cc.readTimeout != nil {
		resolved.ReadTimeout = *cc.readTimeout
	}

	logger := d.logger.Level(resolved.LogLevel).With().Str("service", service).Logger()

	ctx, span := d.tracer.Start(ctx, "dispatch "+service,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("relay.service", service),
			attribute.String("http.request.method", req.Method),
		),
	)
	defer span.End()

	d.metrics.recordDispatchStart(ctx, service)
	start := time.Now()
	resp, err := d.dispatch(ctx, logger, service, req, resolved, span)
	d.metrics.recordDispatchEnd(ctx, service)

	outcome := "success"
	if err != nil {
		if kind, ok := KindOf(err); ok {
			outcome = kind.String()
		} else {
			outcome = KindUnexpected.String()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	d.metrics.recordDispatch(ctx, service, outcome, time.Since(start))

	return resp, err
}

func (d *Dispatcher) dispatch(
	ctx context.Context,
	logger zerolog.Logger,
	service string,
	req *http.Request,
	opts Options,
	span trace.Span,
) (*http.Response, error) {
	physical, endpoint, err := d.target(service, req.URL)
	if err != nil {
		kind, ok := KindOf(err)
		if !ok {
			kind = KindUnexpected
		}
		if kind == KindNoInstances {
			logger.Warn().Msg("no endpoints available")
		}
		d.recorder.Observe(stats.Outcome{
			Service:   service,
			ErrorKind: kind.String(),
		})
		return nil, err
	}
	span.SetAttributes(attribute.String("relay.endpoint", endpoint))
	logger.Debug().
		Str("endpoint", endpoint).
		Str("url", physical.String()).
		Msg("dispatching")

	// Capture the body once so retries can replay it.
	var bodyBytes []byte
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			d.recorder.Observe(stats.Outcome{
				Service:   service,
				ErrorKind: KindUnexpected.String(),
			})
			return nil, newError(KindUnexpected, service, err)
		}
		req.Body.Close()
	}

	attempt := func() (*http.Response, error) {
		return d.attempt(ctx, service, endpoint, req, physical, bodyBytes, opts)
	}

	var resp *http.Response
	if opts.Retry != nil && opts.Retry.IsEnabled() {
		resp, err = d.retry(ctx, logger, service, span, *opts.Retry, attempt)
	} else {
		resp, err = attempt()
	}

	if err != nil {
		var de *Error
		if errors.As(err, &de) {
			return nil, de
		}
		kind, cause := classify(ctx, err)
		return nil, newError(kind, service, cause)
	}

	if resp.StatusCode == http.StatusNotFound && opts.Decode404 {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		resp.Body = http.NoBody
		logger.Debug().Msg("not-found decoded as empty result")
	}
	return resp, nil
}

// target resolves the physical URL and endpoint label for a logical URL,
// honoring a pinned fixed URL when one is registered.
func (d *Dispatcher) target(service string, logical *url.URL) (*url.URL, string, error) {
	if base, ok := d.fixedURL(service); ok {
		physical := *logical
		physical.Scheme = base.Scheme
		physical.Host = base.Host
		physical.User = nil
		physical.Path = base.Path + logical.Path
		if physical.Path == "" {
			physical.Path = "/"
		}
		return &physical, base.Host, nil
	}

	endpoints := d.reg.Endpoints(service)
	if len(endpoints) == 0 {
		return nil, "", newError(KindNoInstances, service,
			errors.New("registry returned no endpoints"))
	}
	ep, err := d.picker.Pick(service, endpoints)
	if err != nil {
		return nil, "", newError(KindNoInstances, service, err)
	}
	physical, err := RewriteURL(ep, logical)
	if err != nil {
		return nil, "", err
	}
	return physical, ep.Addr(), nil
}

// attempt executes one physical attempt and records its outcome. The read
// timeout bounds the attempt through the context; interceptors run on the
// attempt's clone so the caller's request stays untouched.
func (d *Dispatcher) attempt(
	ctx context.Context,
	service, endpoint string,
	req *http.Request,
	physical *url.URL,
	bodyBytes []byte,
	opts Options,
) (*http.Response, error) {
	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if opts.ReadTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, opts.ReadTimeout)
	}

	clone := req.Clone(attemptCtx)
	clone.URL = physical
	clone.Host = ""
	if bodyBytes != nil {
		clone.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		clone.ContentLength = int64(len(bodyBytes))
	} else if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			cancel()
			// The endpoint was never reached; charge the service bucket
			// so its stats stay honest.
			d.recorder.Observe(stats.Outcome{
				Service:   service,
				ErrorKind: KindUnexpected.String(),
			})
			return nil, newError(KindUnexpected, service, err)
		}
		clone.Body = body
	}

	if err := applyInterceptors(clone, opts.Interceptors); err != nil {
		cancel()
		d.recorder.Observe(stats.Outcome{
			Service:   service,
			ErrorKind: KindUnexpected.String(),
		})
		return nil, newError(KindUnexpected, service, err)
	}

	start := time.Now()
	resp, err := d.roundTripper(opts.ConnectTimeout).RoundTrip(clone)
	latency := time.Since(start)

	// The attempt context must outlive the call while the body is being
	// read; its cancel fires when the body is closed.
	if err != nil {
		cancel()
	} else {
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	}

	out := stats.Outcome{
		Service:  service,
		Endpoint: endpoint,
		Latency:  latency,
	}
	if err != nil {
		kind, _ := classify(ctx, err)
		out.ErrorKind = kind.String()
	} else {
		// An HTTP error status still proves the endpoint answered.
		out.Success = true
	}
	d.recorder.Observe(out)

	return resp, err
}

// retry wraps attempt execution in the service's retry policy, reporting
// each retry on the span and metrics.
func (d *Dispatcher) retry(
	ctx context.Context,
	logger zerolog.Logger,
	service string,
	span trace.Span,
	cfg RetryConfig,
	attempt func() (*http.Response, error),
) (*http.Response, error) {
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = DefaultRetryClassifier
	}

	retries := 0
	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(cfg.backOff()),
		backoff.WithMaxTries(cfg.MaxRetries + 1),
		backoff.WithNotify(func(err error, next time.Duration) {
			retries++
			logger.Debug().
				Err(err).
				Int("attempt", retries).
				Dur("next_delay", next).
				Msg("retrying")
			if span.IsRecording() {
				span.AddEvent("dispatch.retry", trace.WithAttributes(
					attribute.Int("retry.attempt", retries),
					attribute.Int64("retry.delay_ms", next.Milliseconds()),
				))
			}
			d.metrics.recordRetryAttempt(ctx, service, retries)
		}),
	}
	if cfg.MaxElapsedTime > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxElapsedTime(cfg.MaxElapsedTime.Duration()))
	}

	return backoff.Retry(ctx, func() (*http.Response, error) {
		resp, err := attempt()
		if classifier(resp, err) {
			if resp != nil && resp.Body != nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
			if err == nil {
				err = errors.New("retryable status " + resp.Status)
			}
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return resp, nil
	}, retryOpts...)
}

// cancelOnClose releases the attempt context when the response body is
// closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// roundTripper returns the transport for an attempt. A caller-supplied
// transport always wins; otherwise a transport with the given dial timeout
// is built once and reused.
func (d *Dispatcher) roundTripper(connectTimeout time.Duration) http.RoundTripper {
	if d.transport != nil {
		return d.transport
	}
	if cached, ok := d.transports.Load(connectTimeout); ok {
		return cached.(*http.Transport)
	}
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	t := base.Clone()
	t.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	actual, _ := d.transports.LoadOrStore(connectTimeout, t)
	return actual.(*http.Transport)
}
