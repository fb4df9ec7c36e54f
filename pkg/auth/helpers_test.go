package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://test-issuer.com"
	testAudience = "shiro-api"
	testKeyID    = "test-key-id"
)

type testIdP struct {
	key     *rsa.PrivateKey
	jwksURL string
}

// newTestIdP serves a JWKS for a fresh RSA key.
func newTestIdP(t *testing.T) *testIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := jwk.FromRaw(&key.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, testKeyID))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256))
	keyset := jwk.NewSet()
	require.NoError(t, keyset.AddKey(pub))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keyset)
	}))
	t.Cleanup(server.Close)

	return &testIdP{key: key, jwksURL: server.URL + "/.well-known/jwks.json"}
}

func (p *testIdP) validator(t *testing.T) *JWTValidator {
	t.Helper()
	v, err := NewJWTValidator(context.Background(), JWTValidatorConfig{
		JWKSURL:  p.jwksURL,
		Issuer:   testIssuer,
		Audience: testAudience,
	})
	require.NoError(t, err)
	t.Cleanup(v.Close)
	return v
}

type tokenOpts struct {
	issuer   string
	audience string
	expires  time.Time
	claims   map[string]any
}

func (p *testIdP) token(t *testing.T, subject string, opts tokenOpts) string {
	t.Helper()
	if opts.issuer == "" {
		opts.issuer = testIssuer
	}
	if opts.audience == "" {
		opts.audience = testAudience
	}
	if opts.expires.IsZero() {
		opts.expires = time.Now().Add(time.Hour)
	}

	tok := jwt.New()
	require.NoError(t, tok.Set(jwt.IssuerKey, opts.issuer))
	require.NoError(t, tok.Set(jwt.AudienceKey, opts.audience))
	require.NoError(t, tok.Set(jwt.SubjectKey, subject))
	require.NoError(t, tok.Set(jwt.IssuedAtKey, time.Now().Add(-2*time.Hour)))
	require.NoError(t, tok.Set(jwt.ExpirationKey, opts.expires))
	for k, v := range opts.claims {
		require.NoError(t, tok.Set(k, v))
	}

	key, err := jwk.FromRaw(p.key)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, testKeyID))

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key))
	require.NoError(t, err)
	return string(signed)
}
