package security

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/ecommerce/backend/pkg/domain"
)

// Response header names and fixed values.
const (
	HeaderFrameOptions       = "X-Frame-Options"
	HeaderContentTypeOptions = "X-Content-Type-Options"
	HeaderXSSProtection      = "X-XSS-Protection"
	HeaderHSTS               = "Strict-Transport-Security"

	noCacheValue = "no-cache, no-store, max-age=0, must-revalidate"
)

// headersFilter writes protective response headers before the handler runs
// so handlers can still override them.
type headersFilter struct {
	static http.Header
	hsts   string
}

func newHeadersFilter(s domain.HeaderSettings) *headersFilter {
	f := &headersFilter{static: http.Header{}}

	switch s.FrameOptions {
	case domain.FrameOptionsDeny:
		f.static.Set(HeaderFrameOptions, "DENY")
	case domain.FrameOptionsSameOrigin:
		f.static.Set(HeaderFrameOptions, "SAMEORIGIN")
	}
	if enabled(s.ContentTypeOptions) {
		f.static.Set(HeaderContentTypeOptions, "nosniff")
	}
	if enabled(s.CacheControl) {
		f.static.Set("Cache-Control", noCacheValue)
		f.static.Set("Pragma", "no-cache")
		f.static.Set("Expires", "0")
	}
	if enabled(s.XSSProtection) {
		f.static.Set(HeaderXSSProtection, "0")
	}
	if s.HSTS != nil && s.HSTS.Enabled {
		f.hsts = "max-age=" + strconv.Itoa(s.HSTS.MaxAgeSeconds)
		if s.HSTS.IncludeSubDomains {
			f.hsts += "; includeSubDomains"
		}
	}

	return f
}

func (f *headersFilter) Name() string { return FilterHeaders }

func (f *headersFilter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for k, v := range f.static {
			h[k] = slices.Clone(v)
		}
		// HSTS is ignored by browsers over plain HTTP.
		if f.hsts != "" && r.TLS != nil {
			h.Set(HeaderHSTS, f.hsts)
		}
		next.ServeHTTP(w, r)
	})
}

func enabled(b *bool) bool {
	return b != nil && *b
}
