package rules

import "regexp"

const (
	mediaSuffix   = `(/media/.*)$`
	redirectRoot  = "https://"
	firstCapture  = `\1`
	schemePattern = `^https?://`
)

// Pattern returns the request filter for host: http or https, the exact
// host, then a captured /media/ path suffix.
func Pattern(host string) string {
	return schemePattern + regexp.QuoteMeta(host) + mediaSuffix
}

// Substitution returns the rewrite template sending the captured suffix to
// destination.
func Substitution(destination string) string {
	return redirectRoot + destination + firstCapture
}
