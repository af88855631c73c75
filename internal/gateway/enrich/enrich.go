// Package enrich derives server-side fields for incoming events: receive
// time, normalized client IP, geo hints from trusted proxy headers, and
// parsed user-agent details.
package enrich

import (
	"net"
	"net/http"
	"strings"

	"github.com/mileusna/useragent"
)

// Geo headers are checked in a fixed priority order; the first present
// value wins. These are set by trusted edge proxies, never by the client
// snippet itself.
var (
	countryHeaders = []string{"CF-IPCountry", "X-Vercel-IP-Country", "X-Geo-Country"}
	regionHeaders  = []string{"X-Vercel-IP-Country-Region", "X-Geo-Region"}
	cityHeaders    = []string{"X-Vercel-IP-City", "X-Geo-City"}
)

// DefaultDeviceType is used when the user-agent gives no device signal.
const DefaultDeviceType = "desktop"

// Enrichment carries every server-derived field attached to a raw event.
type Enrichment struct {
	ClientIP string

	Country string
	Region  string
	City    string

	Browser        string
	BrowserVersion string
	OS             string
	DeviceType     string
	Language       string
}

// FromRequest computes the enrichment for all events in one request.
func FromRequest(r *http.Request) Enrichment {
	e := Enrichment{
		ClientIP: ClientIP(r),
		Country:  firstHeader(r, countryHeaders),
		Region:   firstHeader(r, regionHeaders),
		City:     firstHeader(r, cityHeaders),
		Language: acceptLanguage(r.Header.Get("Accept-Language")),
	}

	ua := useragent.Parse(r.Header.Get("User-Agent"))
	e.Browser = ua.Name
	e.BrowserVersion = ua.Version
	e.OS = ua.OS
	e.DeviceType = deviceType(ua)

	return e
}

// ClientIP resolves the client address from the first X-Forwarded-For entry,
// falling back to the socket address. IPv4-mapped IPv6 addresses
// (::ffff:a.b.c.d) are unwrapped to plain IPv4.
func ClientIP(r *http.Request) string {
	addr := ""
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		addr = strings.TrimSpace(parts[0])
	}
	if addr == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			addr = r.RemoteAddr
		} else {
			addr = host
		}
	}
	return normalizeIP(addr)
}

func normalizeIP(addr string) string {
	ip := net.ParseIP(addr)
	if ip == nil {
		return addr
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}

func firstHeader(r *http.Request, names []string) string {
	for _, name := range names {
		if v := r.Header.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// acceptLanguage returns the highest-priority language tag, e.g.
// "en-US,en;q=0.9" -> "en-US".
func acceptLanguage(header string) string {
	if header == "" {
		return ""
	}
	first := header
	if idx := strings.IndexByte(first, ','); idx >= 0 {
		first = first[:idx]
	}
	if idx := strings.IndexByte(first, ';'); idx >= 0 {
		first = first[:idx]
	}
	return strings.TrimSpace(first)
}

func deviceType(ua useragent.UserAgent) string {
	switch {
	case ua.Bot:
		return "bot"
	case ua.Mobile:
		return "mobile"
	case ua.Tablet:
		return "tablet"
	case ua.Desktop:
		return "desktop"
	default:
		return DefaultDeviceType
	}
}
