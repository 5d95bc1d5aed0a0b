package helpers

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/url"
	"path"
	"strings"
)

var trackingParams = []string{"utm_", "gclid", "fbclid", "msclkid", "srsltid"}

// NormalizeSource reduces a page URL to the form used to key its chunks: lowercase
// scheme and host, default port removed, fragment and tracking parameters dropped,
// path cleaned. Query parameters keep their encoded order via url.Values.Encode.
func NormalizeSource(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", errors.New("url missing host")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(u.Scheme == "https" && port == "443") && !(u.Scheme == "http" && port == "80") {
		host += ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path != "" {
		cleaned := path.Clean(u.Path)
		if strings.HasSuffix(u.Path, "/") && cleaned != "/" {
			cleaned += "/"
		}
		u.Path = cleaned
		u.RawPath = ""
	}
	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		for _, prefix := range trackingParams {
			if strings.HasPrefix(lower, prefix) {
				q.Del(key)
				break
			}
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SourceKey is a short stable key for a page. Malformed URLs fall back to hashing
// the trimmed input.
func SourceKey(raw string) string {
	normalized, err := NormalizeSource(raw)
	if err != nil {
		normalized = strings.TrimSpace(raw)
	}
	sum := sha1.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}
