package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/auth"
)

func TestAmbientIdentityMiddleware(t *testing.T) {
	var got *auth.AmbientIdentity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.AmbientIdentityFromContext(r.Context())
	})
	handler := AmbientIdentityMiddleware("X-Remote-User")(next)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Remote-User", ` CORP\alice `)
	handler.ServeHTTP(httptest.NewRecorder(), r)
	require.NotNil(t, got)
	assert.Equal(t, `CORP\alice`, got.Name)
	assert.Equal(t, AmbientAuthType, got.AuthType)

	got = nil
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Nil(t, got)
}

func TestAmbientIdentityMiddleware_Disabled(t *testing.T) {
	var got *auth.AmbientIdentity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.AmbientIdentityFromContext(r.Context())
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Remote-User", "alice")
	AmbientIdentityMiddleware("")(next).ServeHTTP(httptest.NewRecorder(), r)
	assert.Nil(t, got, "without a configured header nothing is trusted")
}
