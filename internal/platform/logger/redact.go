package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
)

const redacted = "[REDACTED]"

var secretKeyParts = []string{"token", "authorization", "password", "secret", "api_key", "apikey", "dsn"}

// redactor masks credentials and, optionally, pseudonymises tenant ids.
// The zero value masks secrets only.
type redactor struct {
	off         bool
	hashTenants bool
	salt        string
}

var envRedactor = sync.OnceValue(func() *redactor {
	r := &redactor{salt: strings.TrimSpace(os.Getenv("LOG_HASH_SALT"))}
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_REDACTION_ENABLED"))) {
	case "0", "false", "no", "off":
		r.off = true
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_HASH_TENANT"))) {
	case "1", "true", "yes", "on":
		r.hashTenants = true
	}
	return r
})

func (r *redactor) apply(kv []any) []any {
	if r == nil || r.off || len(kv) == 0 {
		return kv
	}
	out := make([]any, len(kv))
	copy(out, kv)
	for i := 0; i+1 < len(out); i += 2 {
		key, ok := out[i].(string)
		if !ok {
			continue
		}
		out[i+1] = r.value(strings.ToLower(key), out[i+1])
	}
	return out
}

func (r *redactor) value(key string, val any) any {
	for _, part := range secretKeyParts {
		if strings.Contains(key, part) {
			return redacted
		}
	}
	if r.hashTenants && key == "tenant_id" {
		return r.hash(val)
	}
	switch v := val.(type) {
	case string:
		if looksLikeJWT(v) {
			return redacted
		}
	case map[string]any:
		m := make(map[string]any, len(v))
		for k, inner := range v {
			m[k] = r.value(strings.ToLower(k), inner)
		}
		return m
	}
	return val
}

func (r *redactor) hash(val any) string {
	raw := strings.TrimSpace(fmt.Sprint(val))
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(r.salt + raw))
	return "hash:" + hex.EncodeToString(sum[:6])
}

func looksLikeJWT(s string) bool {
	parts := strings.Split(s, ".")
	return len(parts) == 3 && len(parts[0]) > 10 && len(parts[1]) > 10
}
