package transport

import (
	"net/http"
	"net/url"
	"strings"
)

// ResolveBaseURL picks the public origin redirects are built on: forwarded
// proxy headers when trustForwarded is set, then the configured site URL, then
// the request itself. Forwarded headers are client controlled unless a proxy
// in front of the service overwrites them.
func ResolveBaseURL(r *http.Request, siteURL string, trustForwarded bool) string {
	var proto, host string
	if trustForwarded {
		proto = firstHeaderValue(r.Header.Get("X-Forwarded-Proto"))
		host = firstHeaderValue(r.Header.Get("X-Forwarded-Host"))
	}
	if proto != "" && host != "" {
		return proto + "://" + host
	}

	if siteURL != "" {
		return strings.TrimRight(siteURL, "/")
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

func firstHeaderValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

// BuildURL joins base, path and the non-empty params.
func BuildURL(base, path string, params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u := strings.TrimRight(base, "/") + path
	if encoded := q.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}
