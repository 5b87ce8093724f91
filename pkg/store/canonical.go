package store

import (
	"fmt"
	"net/url"
	"strings"
)

// CanonicalURL normalizes a source URL for uniqueness comparison: scheme and
// host are lowercased, default ports and fragments are dropped, trailing
// slashes are trimmed and query parameters are sorted by key. Two URLs that
// differ only in these details canonicalize to the same string.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %v", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid url %q: missing scheme or host", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	switch u.Scheme {
	case "http":
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case "https":
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	if u.RawQuery != "" {
		// url.Values.Encode sorts by key
		u.RawQuery = u.Query().Encode()
	}

	return u.String(), nil
}
