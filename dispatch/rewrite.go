package dispatch

import (
	"errors"
	"net/url"

	"github.com/kaleido-labs/relay-go/registry"
)

// RewriteURL turns a logical URL ("http://orders/items/42") into a physical
// one addressed at the chosen endpoint ("http://10.0.0.5:8080/items/42").
//
// The service-name authority is replaced by the endpoint's host:port; path
// and query are preserved verbatim. When the endpoint is secure and the
// logical scheme was plain http, the scheme is upgraded to https. A logical
// URL that was nothing but the authority ("http://orders") yields "/" as the
// physical path so the result is always a complete request target.
//
// The logical URL is never mutated; a fresh URL is returned.
func RewriteURL(ep registry.Endpoint, logical *url.URL) (*url.URL, error) {
	if logical == nil || logical.Host == "" {
		return nil, newError(KindMalformedTarget, hostOf(logical),
			errors.New("logical URL has no authority"))
	}

	physical := *logical
	physical.Host = ep.Addr()
	physical.User = nil

	if ep.Secure && physical.Scheme == "http" {
		physical.Scheme = "https"
	}
	if physical.Path == "" {
		physical.Path = "/"
	}
	return &physical, nil
}

func hostOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Host
}
