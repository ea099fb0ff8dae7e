// Package fingerprint reduces low-entropy client environment attributes to a
// stable device hash.
//
// The hash is a clustering key for attribution deduplication, not a security
// boundary: it is an unsalted content hash, so anyone who knows the attribute
// set can reproduce it, and two clients with genuinely identical
// configuration collide. Both are accepted trade-offs; the attribute set is
// deliberately restrained (no canvas or WebGL signals) as a privacy choice.
package fingerprint

import (
	"strings"

	"github.com/mssola/useragent"

	"iwitness/pkg/canonical"
	"iwitness/pkg/hashing"
)

// The fixed attribute set. Unknown keys in the input are ignored so a noisy
// client cannot perturb the hash.
const (
	AttrUserAgent  = "user_agent"
	AttrPlatform   = "platform"
	AttrLocale     = "locale"
	AttrScreen     = "screen" // WxH, e.g. "1920x1080"
	AttrTimezone   = "timezone"
	AttrColorDepth = "color_depth"
)

var knownAttrs = []string{
	AttrUserAgent,
	AttrPlatform,
	AttrLocale,
	AttrScreen,
	AttrTimezone,
	AttrColorDepth,
}

// Fingerprint is the stable identity of a client environment. Created once
// per session context; immutable.
type Fingerprint struct {
	DeviceHash      string
	RawAttributes   map[string]string
	CanonicalString string
}

// Generate reduces the attribute map to a fingerprint. Missing attributes
// are recorded as absent rather than failing; two invocations over the same
// configuration produce the same DeviceHash.
func Generate(attrs map[string]string) Fingerprint {
	raw := make(map[string]string, len(knownAttrs))
	fields := make(map[string]canonical.Value, len(knownAttrs))
	for _, key := range knownAttrs {
		value, ok := attrs[key]
		if !ok {
			continue
		}
		if key == AttrUserAgent {
			value = NormalizeUserAgent(value)
		}
		raw[key] = value
		fields[key] = canonical.String(value)
	}

	canonicalString := string(canonical.EncodeCanonical(canonical.Object(fields)))
	return Fingerprint{
		DeviceHash:      hashing.DigestHex([]byte(canonicalString)),
		RawAttributes:   raw,
		CanonicalString: canonicalString,
	}
}

// NormalizeUserAgent reduces a full user-agent string to browser name, major
// version, and OS. Minor and patch version churn must not shift the device
// hash; major version changes should.
func NormalizeUserAgent(ua string) string {
	if ua == "" {
		return ""
	}
	parsed := useragent.New(ua)
	name, version := parsed.Browser()
	if name == "" {
		return ua
	}
	normalized := name
	if major := majorVersion(version); major != "" {
		normalized += " " + major
	}
	if os := parsed.OS(); os != "" {
		normalized += " on " + os
	}
	return normalized
}

func majorVersion(version string) string {
	if version == "" {
		return ""
	}
	if i := strings.IndexByte(version, '.'); i >= 0 {
		return version[:i]
	}
	return version
}
