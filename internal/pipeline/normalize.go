package pipeline

import (
	"net/url"
	"strings"
)

// NormalizeURL returns the dedupe key for a posting URL and false when the
// URL is empty, unparsable or not absolute.
//
// Scheme and host are lowercased, the fragment and utm_* tracking parameters
// are dropped, the remaining query is sorted and a trailing slash on a
// non-root path is trimmed.
func NormalizeURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if strings.HasPrefix(strings.ToLower(k), "utm_") {
				q.Del(k)
			}
		}
		// Encode sorts by key.
		u.RawQuery = q.Encode()
	}
	u.ForceQuery = false

	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
		u.RawPath = ""
	}
	return u.String(), true
}
