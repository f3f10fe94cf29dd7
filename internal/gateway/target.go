package gateway

import (
	"net/http"
	"strings"
)

// requestURL rebuilds the absolute URL the client asked for. Proxy-form
// requests carry it already; origin-form requests are rebuilt from Host and
// the scheme the client used.
func requestURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}

	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	return scheme(r) + "://" + host + r.URL.RequestURI()
}

func scheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		proto = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
		if proto == "http" || proto == "https" {
			return proto
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
