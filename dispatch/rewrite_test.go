package dispatch

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaleido-labs/relay-go/registry"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestRewriteURL_ReplacesAuthority(t *testing.T) {
	t.Parallel()

	ep := registry.Endpoint{Host: "10.0.0.5", Port: 8080}
	physical, err := RewriteURL(ep, mustParse(t, "http://orders/items/42"))
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.5:8080/items/42", physical.String())
}

func TestRewriteURL_PreservesQuery(t *testing.T) {
	t.Parallel()

	ep := registry.Endpoint{Host: "10.0.0.5", Port: 8080}
	physical, err := RewriteURL(ep, mustParse(t, "http://orders/search?q=widget&page=2"))
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.5:8080/search?q=widget&page=2", physical.String())
}

func TestRewriteURL_SecureEndpointUpgradesScheme(t *testing.T) {
	t.Parallel()

	ep := registry.Endpoint{Host: "10.0.0.5", Port: 8443, Secure: true}
	physical, err := RewriteURL(ep, mustParse(t, "http://orders/items"))
	require.NoError(t, err)

	assert.Equal(t, "https://10.0.0.5:8443/items", physical.String())
}

func TestRewriteURL_EmptyPathBecomesRoot(t *testing.T) {
	t.Parallel()

	ep := registry.Endpoint{Host: "10.0.0.5", Port: 8080}
	physical, err := RewriteURL(ep, mustParse(t, "http://orders"))
	require.NoError(t, err)

	assert.Equal(t, "/", physical.Path)
	assert.Equal(t, "http://10.0.0.5:8080/", physical.String())
}

func TestRewriteURL_SecureEmptyPath(t *testing.T) {
	t.Parallel()

	ep := registry.Endpoint{Host: "10.0.0.5", Port: 8080, Secure: true}
	physical, err := RewriteURL(ep, mustParse(t, "http://orders"))
	require.NoError(t, err)

	assert.Equal(t, "https://10.0.0.5:8080/", physical.String())
}

func TestRewriteURL_DropsUserInfo(t *testing.T) {
	t.Parallel()

	ep := registry.Endpoint{Host: "10.0.0.5", Port: 8080}
	logical := mustParse(t, "http://orders/items")
	logical.User = url.UserPassword("alice", "secret")

	physical, err := RewriteURL(ep, logical)
	require.NoError(t, err)
	assert.Nil(t, physical.User)
}

func TestRewriteURL_DoesNotMutateLogicalURL(t *testing.T) {
	t.Parallel()

	ep := registry.Endpoint{Host: "10.0.0.5", Port: 8443, Secure: true}
	logical := mustParse(t, "http://orders")

	_, err := RewriteURL(ep, logical)
	require.NoError(t, err)

	assert.Equal(t, "orders", logical.Host)
	assert.Equal(t, "http", logical.Scheme)
	assert.Empty(t, logical.Path)
}

func TestRewriteURL_MissingAuthority(t *testing.T) {
	t.Parallel()

	ep := registry.Endpoint{Host: "10.0.0.5", Port: 8080}

	for _, logical := range []*url.URL{nil, mustParse(t, "/just/a/path")} {
		_, err := RewriteURL(ep, logical)
		kind, ok := KindOf(err)
		require.True(t, ok)
		assert.Equal(t, KindMalformedTarget, kind)
	}
}
