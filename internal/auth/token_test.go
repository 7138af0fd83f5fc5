// ABOUTME: Tests for JWT issuing, verification, and the HTTP middleware
// ABOUTME: Covers round trips, wrong secrets, expiry, and bearer extraction

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestIssueAndVerify(t *testing.T) {
	token, err := IssueToken(secret, "op-thandi", time.Hour)
	require.NoError(t, err)

	got, err := NewJWTVerifier(secret).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "op-thandi", got)
}

func TestVerify_WrongSecret(t *testing.T) {
	token, err := IssueToken(secret, "op-thandi", time.Hour)
	require.NoError(t, err)

	_, err = NewJWTVerifier([]byte("other-secret")).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Expired(t *testing.T) {
	token, err := IssueToken(secret, "op-thandi", -time.Minute)
	require.NoError(t, err)

	_, err = NewJWTVerifier(secret).Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_Garbage(t *testing.T) {
	_, err := NewJWTVerifier(secret).Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueToken_NoExpiry(t *testing.T) {
	token, err := IssueToken(secret, "op-bootstrap", 0)
	require.NoError(t, err)

	got, err := NewJWTVerifier(secret).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "op-bootstrap", got)
}

func TestMiddleware(t *testing.T) {
	verifier := NewJWTVerifier(secret)
	var sawOperator string
	handler := Middleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawOperator, _ = OperatorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	token, err := IssueToken(secret, "op-thandi", time.Hour)
	require.NoError(t, err)

	t.Run("valid bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "op-thandi", sawOperator)
	})

	t.Run("query parameter fallback", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ws?access_token="+token, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
