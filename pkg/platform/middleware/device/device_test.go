package device_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iwitness/internal/fingerprint"
	"iwitness/pkg/platform/middleware/device"
	"iwitness/pkg/requestcontext"
	"iwitness/pkg/testutil"
)

const testUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// hashFor runs a request through the middleware and feeds the captured
// attributes straight into the fingerprint generator, the same path the
// session manager takes.
func hashFor(t *testing.T, headers map[string]string) (string, map[string]string) {
	t.Helper()

	var attrs map[string]string
	handler := device.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attrs = requestcontext.DeviceAttributes(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)

	return fingerprint.Generate(attrs).DeviceHash, attrs
}

func TestMiddlewareFeedsFingerprint(t *testing.T) {
	testutil.Given(t, "a client sending the full device header set", func(t *testing.T) {
		headers := map[string]string{
			"User-Agent":            testUA,
			device.HeaderPlatform:   "MacIntel",
			device.HeaderLocale:     "en-US",
			device.HeaderScreen:     "2560x1440",
			device.HeaderTimezone:   "America/Los_Angeles",
			device.HeaderColorDepth: "24",
		}

		testutil.When(t, "the attributes reach the fingerprint generator", func(t *testing.T) {
			hash, attrs := hashFor(t, headers)

			testutil.Then(t, "every attribute lands under a key the generator reads", func(t *testing.T) {
				fp := fingerprint.Generate(attrs)
				require.Len(t, fp.RawAttributes, 6)
				assert.Equal(t, "2560x1440", fp.RawAttributes[fingerprint.AttrScreen])
				assert.Len(t, hash, 64)
			})

			testutil.Then(t, "changing only the screen header shifts the device hash", func(t *testing.T) {
				smaller := map[string]string{}
				for k, v := range headers {
					smaller[k] = v
				}
				smaller[device.HeaderScreen] = "800x600"

				otherHash, _ := hashFor(t, smaller)
				assert.NotEqual(t, hash, otherHash)
			})
		})
	})
}

func TestMiddlewareOmitsAbsentHeaders(t *testing.T) {
	_, attrs := hashFor(t, map[string]string{"User-Agent": testUA})
	require.Len(t, attrs, 1)
	assert.Contains(t, attrs, fingerprint.AttrUserAgent)
}
