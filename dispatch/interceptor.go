package dispatch

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Interceptor inspects or modifies a physical request before transport
// execution. Interceptors run in registration order; an error aborts the
// dispatch with KindUnexpected before any bytes go on the wire.
//
// Interceptors receive the request after URI rewriting, so they see the
// concrete endpoint, not the service name, and cannot redirect the call to a
// different service.
type Interceptor func(req *http.Request) error

// applyInterceptors runs the chain in order, stopping at the first error.
func applyInterceptors(req *http.Request, chain []Interceptor) error {
	for _, interceptor := range chain {
		if err := interceptor(req); err != nil {
			return err
		}
	}
	return nil
}

// AuthBearerInterceptor adds a static Bearer token.
func AuthBearerInterceptor(token string) Interceptor {
	return func(req *http.Request) error {
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

// AuthBearerFuncInterceptor adds a Bearer token from a function, for
// refreshable credentials.
func AuthBearerFuncInterceptor(tokenFunc func() (string, error)) Interceptor {
	return func(req *http.Request) error {
		token, err := tokenFunc()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

// APIKeyInterceptor adds an API key header.
func APIKeyInterceptor(headerName, apiKey string) Interceptor {
	return func(req *http.Request) error {
		req.Header.Set(headerName, apiKey)
		return nil
	}
}

// UserAgentInterceptor sets the User-Agent header.
func UserAgentInterceptor(userAgent string) Interceptor {
	return func(req *http.Request) error {
		req.Header.Set("User-Agent", userAgent)
		return nil
	}
}

// CorrelationIDInterceptor sets a fresh UUID on the given header for every
// dispatched request, unless the caller already set one.
func CorrelationIDInterceptor(headerName string) Interceptor {
	return func(req *http.Request) error {
		if req.Header.Get(headerName) == "" {
			req.Header.Set(headerName, uuid.NewString())
		}
		return nil
	}
}

// ErrRateLimited is returned when a dispatch is rejected by a rate-limiting
// interceptor configured not to wait.
var ErrRateLimited = errors.New("dispatch: rate limit exceeded")

// RateLimitInterceptor throttles dispatches to the service the interceptor
// is registered for. With wait set, the request blocks for a token,
// respecting the request context deadline; otherwise it fails immediately
// with ErrRateLimited.
func RateLimitInterceptor(requestsPerSecond float64, burst int, wait bool) Interceptor {
	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	return func(req *http.Request) error {
		if wait {
			return limiter.Wait(req.Context())
		}
		if !limiter.Allow() {
			return ErrRateLimited
		}
		return nil
	}
}
