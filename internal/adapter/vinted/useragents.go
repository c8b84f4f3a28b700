// Package vinted is the catalog client: it canonicalizes saved-search URLs,
// maps them onto the catalog API parameters, executes signed requests through
// a caller-provided session and classifies the outcome.
package vinted

import (
	"fmt"
	"math/rand"
	"net/http"
	"strings"
)

// userAgents is a curated list of realistic desktop browser UAs. The UA used
// to obtain a bearer token must be reused on every catalog call made with it.
var userAgents = []string{
	// Chrome
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	// Firefox
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:120.0) Gecko/20100101 Firefox/120.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
	// Edge
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36 Edg/130.0.0.0",
}

// RandomUserAgent picks one UA from the curated list.
func RandomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))] //nolint:gosec // UA choice needs no crypto randomness.
}

// IsChromeFamily reports whether the UA should carry Sec-Ch-Ua client hints.
// Edge is Chromium-based but the anti-bot fingerprint for Edg UAs omits them,
// matching real Firefox/Edge traffic.
func IsChromeFamily(ua string) bool {
	return strings.Contains(ua, "Chrome") && !strings.Contains(ua, "Edg")
}

// chromeHints derives the Sec-Ch-Ua values from the UA string so the hints
// always agree with the advertised browser version and platform.
func chromeHints(ua string) (brands, platform string) {
	major := "131"
	if i := strings.Index(ua, "Chrome/"); i >= 0 {
		rest := ua[i+len("Chrome/"):]
		if j := strings.IndexByte(rest, '.'); j > 0 {
			major = rest[:j]
		}
	}
	platform = "Windows"
	switch {
	case strings.Contains(ua, "Macintosh"):
		platform = "macOS"
	case strings.Contains(ua, "Linux"):
		platform = "Linux"
	}
	brands = fmt.Sprintf(`"Google Chrome";v=%q, "Chromium";v=%q, "Not_A Brand";v="24"`, major, major)
	return brands, platform
}

func setChromeHints(h http.Header, ua string) {
	brands, platform := chromeHints(ua)
	h.Set("Sec-Ch-Ua", brands)
	h.Set("Sec-Ch-Ua-Mobile", "?0")
	h.Set("Sec-Ch-Ua-Platform", `"`+platform+`"`)
}

// SetCommonHeaders applies the browser-shaped header set every request in a
// session carries, including client hints for Chrome-family UAs.
// Accept-Encoding is left to the transport so gzip responses come back
// decoded.
func SetCommonHeaders(h http.Header, ua string) {
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Accept-Language", "de-DE,de;q=0.9,en-US;q=0.8,en;q=0.7")
	h.Set("Connection", "keep-alive")
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	h.Set("X-Requested-With", "XMLHttpRequest")
	h.Set("User-Agent", ua)
	if IsChromeFamily(ua) {
		setChromeHints(h, ua)
	}
}

// SetDocumentHeaders applies the headers of a top-level page navigation, used
// for the landing-page request that yields the access token cookie.
func SetDocumentHeaders(h http.Header, ua string) {
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "de-DE,de;q=0.9,en-US;q=0.8,en;q=0.7")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("User-Agent", ua)
	if IsChromeFamily(ua) {
		setChromeHints(h, ua)
	}
}
