package normalize

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

var ErrEmptyHost = errors.New("empty host")

const maxDecodeDepth = 2

var defaultPorts = map[string]string{"http": "80", "https": "443"}

// Host reduces user input to the host a mapping matches on, keeping a
// non-default port. It accepts a host, host:port, a host with a path, or a
// full URL such as the address of the current tab.
func Host(input string) (string, error) {
	s := strings.TrimSpace(input)
	for i := 0; i < maxDecodeDepth; i++ {
		next, err := url.PathUnescape(s)
		if err != nil || next == s {
			break
		}
		s = next
	}

	scheme := ""
	if strings.Contains(s, "://") {
		parsed, err := url.Parse(s)
		if err != nil {
			return "", err
		}
		scheme = strings.ToLower(parsed.Scheme)
		s = parsed.Host
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.ToLower(s)
	// Request URLs carry the port unless it is the scheme's default.
	if host, port, err := net.SplitHostPort(s); err == nil {
		if port == "" || defaultPorts[scheme] == port {
			s = host
			if strings.Contains(host, ":") {
				s = "[" + host + "]"
			}
		} else {
			s = net.JoinHostPort(strings.TrimSuffix(host, "."), port)
		}
	}
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return "", ErrEmptyHost
	}
	return s, nil
}
