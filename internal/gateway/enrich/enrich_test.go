package enrich

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

const chromeLinuxUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
const iphoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
const googlebotUA = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"

func TestClientIP_ForwardedFor(t *testing.T) {
	r := httptest.NewRequest("POST", "/e", nil)
	r.RemoteAddr = "10.0.0.1:54321"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.2, 10.0.0.1")

	assert.Equal(t, "203.0.113.9", ClientIP(r))
}

func TestClientIP_RemoteAddrFallback(t *testing.T) {
	r := httptest.NewRequest("POST", "/e", nil)
	r.RemoteAddr = "198.51.100.4:9999"

	assert.Equal(t, "198.51.100.4", ClientIP(r))
}

func TestClientIP_UnwrapsMappedIPv6(t *testing.T) {
	r := httptest.NewRequest("POST", "/e", nil)
	r.RemoteAddr = "[::ffff:192.0.2.7]:443"

	assert.Equal(t, "192.0.2.7", ClientIP(r))
}

func TestGeoHeaderPriority(t *testing.T) {
	r := httptest.NewRequest("POST", "/e", nil)
	r.Header.Set("X-Geo-Country", "DE")
	r.Header.Set("CF-IPCountry", "NL")
	r.Header.Set("X-Vercel-IP-City", "Amsterdam")

	e := FromRequest(r)
	assert.Equal(t, "NL", e.Country)
	assert.Equal(t, "", e.Region)
	assert.Equal(t, "Amsterdam", e.City)
}

func TestAcceptLanguage(t *testing.T) {
	cases := map[string]string{
		"en-US,en;q=0.9,de;q=0.8": "en-US",
		"de-DE":                   "de-DE",
		"fr;q=0.7":                "fr",
		"":                        "",
	}
	for header, want := range cases {
		assert.Equal(t, want, acceptLanguage(header))
	}
}

func TestUserAgentDevice(t *testing.T) {
	cases := []struct {
		name    string
		ua      string
		device  string
		browser string
	}{
		{"desktop chrome", chromeLinuxUA, "desktop", "Chrome"},
		{"iphone safari", iphoneUA, "mobile", "Safari"},
		{"crawler", googlebotUA, "bot", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/e", nil)
			r.Header.Set("User-Agent", tc.ua)

			e := FromRequest(r)
			assert.Equal(t, tc.device, e.DeviceType)
			if tc.browser != "" {
				assert.Equal(t, tc.browser, e.Browser)
			}
		})
	}
}

func TestUserAgentMissing(t *testing.T) {
	r := httptest.NewRequest("POST", "/e", nil)
	e := FromRequest(r)
	assert.Equal(t, DefaultDeviceType, e.DeviceType)
}
