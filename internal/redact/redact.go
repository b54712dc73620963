// Package redact masks credential material before it reaches a log record.
// Every header map or URI the gateway logs goes through here first; the
// masking is by name for well-known sensitive headers and query parameters,
// and by value for secrets explicitly registered at startup (decrypted
// storage credentials, API keys).
package redact

import (
	"net/url"
	"strings"
	"sync"
)

const mask = "[REDACTED]"

// sensitiveHeaders are always masked regardless of value, compared
// case-insensitively.
var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
	"x-api-key":           {},
	"cookie":              {},
	"set-cookie":          {},
}

// sensitiveQueryParams carry signatures or tokens in URLs.
var sensitiveQueryParams = map[string]struct{}{
	"x-amz-signature":  {},
	"x-amz-credential": {},
	"signature":        {},
	"access_token":     {},
	"token":            {},
	"upload_token":     {},
}

var (
	secretsMu sync.RWMutex
	secrets   []string
)

// AddSecret registers a literal value to be masked wherever it appears.
// Intended for decrypted credentials loaded at config time. Short values are
// ignored to avoid masking unrelated text.
func AddSecret(v string) {
	if len(v) < 6 {
		return
	}
	secretsMu.Lock()
	secrets = append(secrets, v)
	secretsMu.Unlock()
}

// String masks registered secret values inside s.
func String(s string) string {
	secretsMu.RLock()
	defer secretsMu.RUnlock()
	for _, sec := range secrets {
		if strings.Contains(s, sec) {
			s = strings.ReplaceAll(s, sec, mask)
		}
	}
	return s
}

// Header returns the value to log for the named header.
func Header(name, value string) string {
	if _, ok := sensitiveHeaders[strings.ToLower(name)]; ok {
		return mask
	}
	return String(value)
}

// Headers returns a flattened, maskable copy of hdr suitable for a log field.
func Headers(hdr map[string][]string) map[string]string {
	out := make(map[string]string, len(hdr))
	for name, values := range hdr {
		out[name] = Header(name, strings.Join(values, ","))
	}
	return out
}

// URI masks sensitive query parameter values in a request URI. Unparseable
// input is passed through the value masker only.
func URI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return String(uri)
	}
	q := u.Query()
	changed := false
	for name := range q {
		if _, ok := sensitiveQueryParams[strings.ToLower(name)]; ok {
			q.Set(name, mask)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return String(u.String())
}
