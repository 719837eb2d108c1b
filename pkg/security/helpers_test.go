package security

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ecommerce/backend/pkg/domain"
)

const testSecret = "test-signing-secret"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{Logger: quietLogger(), Now: func() time.Time { return testNow }}
}

func mustBuild(t testing.TB, s Settings) *FilterChain {
	t.Helper()
	chain, err := Build(context.Background(), s, testOptions())
	require.NoError(t, err)
	return chain
}

// reachedHandler reports the principal it saw so tests can tell the request got through.
func reachedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFromContext(r.Context())
		w.Header().Set("X-Reached", "true")
		w.Header().Set("X-Subject", p.Subject)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "reached")
	})
}

func serve(chain *FilterChain, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	chain.Then(reachedHandler()).ServeHTTP(rec, req)
	return rec
}

func bearer(t testing.TB, subject string, roles ...string) string {
	t.Helper()
	token, err := SignToken(domain.JWTSettings{Secret: testSecret}, subject, roles, testNow, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func withCSRF(req *http.Request, token string) *http.Request {
	req.AddCookie(&http.Cookie{Name: DefaultCSRFCookieName, Value: token})
	req.Header.Set(DefaultCSRFHeaderName, token)
	return req
}

func decodeError(t testing.TB, rec *httptest.ResponseRecorder) domain.ErrorResponse {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp domain.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func productionWithJWT() Settings {
	s := ProductionSettings()
	s.Authentication.JWT.Secret = testSecret
	return s
}
