package security

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecommerce/backend/pkg/domain"
)

func csrfChain(t *testing.T) *FilterChain {
	t.Helper()
	settings := DevelopmentSettings()
	settings.CSRF = &domain.CSRFSettings{Enabled: true, CookieSecure: true, IgnorePaths: []string{"/webhooks/**"}}
	return mustBuild(t, settings)
}

func TestCSRFIssuesTokenOnSafeRequest(t *testing.T) {
	chain := csrfChain(t)

	var seen string
	handler := chain.Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CSRFToken(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cart", nil))

	require.Equal(t, http.StatusNoContent, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	assert.Equal(t, DefaultCSRFCookieName, cookie.Name)
	assert.Equal(t, "/", cookie.Path)
	assert.True(t, cookie.Secure)
	assert.False(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, cookie.Value, seen)
	_, err := uuid.Parse(cookie.Value)
	assert.NoError(t, err)

	// An existing cookie is reused rather than rotated.
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCSRFCookieName, Value: "existing"})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, "existing", seen)
}

func multipartRequest(t *testing.T, fields map[string]string, cookie string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/account/avatar", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(&http.Cookie{Name: DefaultCSRFCookieName, Value: cookie})
	return req
}

func TestCSRFValidation(t *testing.T) {
	chain := csrfChain(t)

	tests := []struct {
		name     string
		build    func() *http.Request
		wantCode int
		wantErr  string
	}{
		{
			name: "header matches cookie",
			build: func() *http.Request {
				return withCSRF(httptest.NewRequest(http.MethodPost, "/api/orders", nil), "t-1")
			},
			wantCode: http.StatusOK,
		},
		{
			name: "no token",
			build: func() *http.Request {
				return httptest.NewRequest(http.MethodDelete, "/api/orders/1", nil)
			},
			wantCode: http.StatusForbidden,
			wantErr:  domain.CodeCSRFTokenMissing,
		},
		{
			name: "header without cookie",
			build: func() *http.Request {
				req := httptest.NewRequest(http.MethodPut, "/api/orders/1", nil)
				req.Header.Set(DefaultCSRFHeaderName, "t-1")
				return req
			},
			wantCode: http.StatusForbidden,
			wantErr:  domain.CodeCSRFTokenInvalid,
		},
		{
			name: "mismatch",
			build: func() *http.Request {
				req := httptest.NewRequest(http.MethodPatch, "/api/orders/1", nil)
				req.AddCookie(&http.Cookie{Name: DefaultCSRFCookieName, Value: "t-1"})
				req.Header.Set(DefaultCSRFHeaderName, "t-2")
				return req
			},
			wantCode: http.StatusForbidden,
			wantErr:  domain.CodeCSRFTokenInvalid,
		},
		{
			name: "form parameter",
			build: func() *http.Request {
				form := url.Values{DefaultCSRFParameterName: {"t-1"}, "qty": {"2"}}
				req := httptest.NewRequest(http.MethodPost, "/cart", strings.NewReader(form.Encode()))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
				req.AddCookie(&http.Cookie{Name: DefaultCSRFCookieName, Value: "t-1"})
				return req
			},
			wantCode: http.StatusOK,
		},
		{
			name: "multipart form parameter",
			build: func() *http.Request {
				return multipartRequest(t, map[string]string{DefaultCSRFParameterName: "t-1", "note": "gift"}, "t-1")
			},
			wantCode: http.StatusOK,
		},
		{
			name: "multipart form without token",
			build: func() *http.Request {
				return multipartRequest(t, map[string]string{"note": "gift"}, "t-1")
			},
			wantCode: http.StatusForbidden,
			wantErr:  domain.CodeCSRFTokenMissing,
		},
		{
			name: "multipart form token mismatch",
			build: func() *http.Request {
				return multipartRequest(t, map[string]string{DefaultCSRFParameterName: "t-2"}, "t-1")
			},
			wantCode: http.StatusForbidden,
			wantErr:  domain.CodeCSRFTokenInvalid,
		},
		{
			name: "form parameter ignored for json",
			build: func() *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/cart", strings.NewReader(`{"_csrf":"t-1"}`))
				req.Header.Set("Content-Type", "application/json")
				req.AddCookie(&http.Cookie{Name: DefaultCSRFCookieName, Value: "t-1"})
				return req
			},
			wantCode: http.StatusForbidden,
			wantErr:  domain.CodeCSRFTokenMissing,
		},
		{
			name: "ignored path",
			build: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/webhooks/payments", nil)
			},
			wantCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(chain, tt.build())

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantErr != "" {
				resp := decodeError(t, rec)
				assert.Equal(t, tt.wantErr, resp.Code)
				assert.NotContains(t, resp.Message, "t-1")
			}
		})
	}
}

func TestCSRFCustomNames(t *testing.T) {
	settings := DevelopmentSettings()
	settings.CSRF = &domain.CSRFSettings{Enabled: true, CookieName: "csrf", HeaderName: "X-CSRF"}
	chain := mustBuild(t, settings)

	req := httptest.NewRequest(http.MethodPost, "/cart", nil)
	req.AddCookie(&http.Cookie{Name: "csrf", Value: "abc"})
	req.Header.Set("X-CSRF", "abc")
	rec := serve(chain, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The default header name is no longer honoured.
	req = httptest.NewRequest(http.MethodPost, "/cart", nil)
	req.AddCookie(&http.Cookie{Name: "csrf", Value: "abc"})
	req.Header.Set(DefaultCSRFHeaderName, "abc")
	rec = serve(chain, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCSRFFormBodyStillReadable(t *testing.T) {
	chain := csrfChain(t)

	var body string
	handler := chain.Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body = r.PostFormValue("qty")
		_, _ = io.WriteString(w, "ok")
	}))

	form := url.Values{DefaultCSRFParameterName: {"t-1"}, "qty": {"3"}}
	req := httptest.NewRequest(http.MethodPost, "/cart", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: DefaultCSRFCookieName, Value: "t-1"})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", body)
}

func TestCSRFMultipartBodyStillReadable(t *testing.T) {
	chain := csrfChain(t)

	var note string
	handler := chain.Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		note = r.FormValue("note")
		_, _ = io.WriteString(w, "ok")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, multipartRequest(t, map[string]string{DefaultCSRFParameterName: "t-1", "note": "gift"}, "t-1"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gift", note)
}

func TestSafeMethod(t *testing.T) {
	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace} {
		assert.True(t, safeMethod(m), m)
	}
	for _, m := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		assert.False(t, safeMethod(m), m)
	}
}
