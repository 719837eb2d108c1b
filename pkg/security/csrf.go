package security

import (
	"context"
	"crypto/subtle"
	"mime"
	"net/http"

	"github.com/google/uuid"

	"github.com/ecommerce/backend/pkg/domain"
)

const csrfTokenContextKey contextKey = "csrf_token"

// csrfMultipartMemory bounds the multipart form kept in memory while the
// token field is looked up. Larger parts spill to temporary files.
const csrfMultipartMemory = 10 << 20

// CSRFToken returns the token the client must echo on state-changing
// requests, or "" when CSRF protection is off.
func CSRFToken(ctx context.Context) string {
	token, _ := ctx.Value(csrfTokenContextKey).(string)
	return token
}

// csrfFilter implements the double-submit cookie pattern: the token cookie
// must be echoed in a header or form field on every unsafe request.
type csrfFilter struct {
	settings domain.CSRFSettings
	ignore   requestMatcher
	obs      observer
}

func newCSRFFilter(s domain.CSRFSettings, obs observer) *csrfFilter {
	f := &csrfFilter{settings: s, obs: obs}
	if len(s.IgnorePaths) > 0 {
		// Patterns were validated by resolve.
		f.ignore, _ = newRequestMatcher(nil, s.IgnorePaths)
	}
	return f
}

func (f *csrfFilter) Name() string { return FilterCSRF }

func (f *csrfFilter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookieToken := ""
		if c, err := r.Cookie(f.settings.CookieName); err == nil {
			cookieToken = c.Value
		}

		if safeMethod(r.Method) {
			if cookieToken == "" {
				cookieToken = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     f.settings.CookieName,
					Value:    cookieToken,
					Path:     "/",
					Secure:   f.settings.CookieSecure,
					HttpOnly: false, // read by browser scripts and echoed back
					SameSite: http.SameSiteLaxMode,
				})
			}
			next.ServeHTTP(w, f.withToken(r, cookieToken))
			return
		}

		if len(f.ignore.patterns) > 0 && f.ignore.matches(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		submitted := r.Header.Get(f.settings.HeaderName)
		if submitted == "" {
			submitted = formToken(r, f.settings.ParameterName)
		}

		switch {
		case submitted == "":
			f.obs.reject(w, r, FilterCSRF, rejection{
				status:  http.StatusForbidden,
				code:    domain.CodeCSRFTokenMissing,
				message: "csrf token missing",
				err:     domain.ErrCSRFTokenMissing,
			})
			return
		case cookieToken == "" || subtle.ConstantTimeCompare([]byte(submitted), []byte(cookieToken)) != 1:
			f.obs.reject(w, r, FilterCSRF, rejection{
				status:  http.StatusForbidden,
				code:    domain.CodeCSRFTokenInvalid,
				message: "csrf token invalid",
				err:     domain.ErrCSRFTokenInvalid,
			})
			return
		}

		f.obs.allow(r, FilterCSRF)
		next.ServeHTTP(w, f.withToken(r, cookieToken))
	})
}

func (f *csrfFilter) withToken(r *http.Request, token string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), csrfTokenContextKey, token))
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

// formToken reads the token field of an urlencoded or multipart form body.
// Other bodies are left unread.
func formToken(r *http.Request, name string) string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	switch mt {
	case "application/x-www-form-urlencoded":
		return r.PostFormValue(name)
	case "multipart/form-data":
		if err := r.ParseMultipartForm(csrfMultipartMemory); err != nil {
			return ""
		}
		if values := r.MultipartForm.Value[name]; len(values) > 0 {
			return values[0]
		}
	}
	return ""
}
