// Package device collects the low-entropy client environment attributes the
// fingerprint generator consumes. Attributes arrive as headers set by the
// client app; absent headers are simply omitted.
package device

import (
	"net/http"

	"iwitness/internal/fingerprint"
	"iwitness/pkg/requestcontext"
)

// Headers carrying client environment attributes.
const (
	HeaderPlatform   = "X-Device-Platform"
	HeaderLocale     = "X-Device-Locale"
	HeaderScreen     = "X-Device-Screen"
	HeaderTimezone   = "X-Device-Timezone"
	HeaderColorDepth = "X-Device-Color-Depth"
)

// Keys come from the fingerprint package so a header can never land under a
// name the generator's fixed attribute set does not read.
var headerAttrs = map[string]string{
	HeaderPlatform:   fingerprint.AttrPlatform,
	HeaderLocale:     fingerprint.AttrLocale,
	HeaderScreen:     fingerprint.AttrScreen,
	HeaderTimezone:   fingerprint.AttrTimezone,
	HeaderColorDepth: fingerprint.AttrColorDepth,
}

// Middleware captures device attributes from request headers plus the
// User-Agent and stores them in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attrs := make(map[string]string)
		if ua := r.Header.Get("User-Agent"); ua != "" {
			attrs[fingerprint.AttrUserAgent] = ua
		}
		for header, attr := range headerAttrs {
			if v := r.Header.Get(header); v != "" {
				attrs[attr] = v
			}
		}
		if len(attrs) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		ctx := requestcontext.WithDeviceAttributes(r.Context(), attrs)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
