// Package secrets keeps credentials embedded in connection URLs out of logs.
package secrets

import (
	"net/url"
	"strings"
)

const redacted = "xxxxx"

var sensitiveParams = []string{"password", "passwd", "token", "secret", "access_token", "api_key"}

// ContainsCredentials reports whether raw is a URL carrying a password, a
// bare NATS token or a sensitive query parameter.
func ContainsCredentials(raw string) bool {
	_, found := redact(raw)
	return found
}

// RedactURL returns raw with every credential masked. Values that are not
// absolute URLs are returned unchanged.
func RedactURL(raw string) string {
	out, _ := redact(raw)
	return out
}

func redact(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw, false
	}
	found := false
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), redacted)
			found = true
		} else if tokenScheme(u.Scheme) && u.User.Username() != "" {
			u.User = url.User(redacted)
			found = true
		}
	}
	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if sensitive(key) {
				q.Set(key, redacted)
				found = true
			}
		}
		if found {
			u.RawQuery = q.Encode()
		}
	}
	if !found {
		return raw, false
	}
	return u.String(), true
}

// NATS accepts a bare token in the user part.
func tokenScheme(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "nats", "tls":
		return true
	}
	return false
}

func sensitive(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveParams {
		if key == s {
			return true
		}
	}
	return false
}
