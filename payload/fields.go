package payload

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrFieldMissing is returned when a requested field is absent from a payload.
var ErrFieldMissing = errors.New("payload field missing")

// Fields is the flat key/value view of a decoded callback. Every value is a plain string;
// structured values keep their original JSON text.
type Fields map[string]string

// First returns the value of the first alias present with a non-empty value. Exact spellings
// are tried in order before a case-insensitive pass.
func (f Fields) First(aliases ...string) (string, bool) {
	for _, alias := range aliases {
		if v, ok := f[alias]; ok && v != "" {
			return v, true
		}
	}
	keys := f.sortedKeys()
	for _, alias := range aliases {
		for _, k := range keys {
			if strings.EqualFold(k, alias) && f[k] != "" {
				return f[k], true
			}
		}
	}
	return "", false
}

// Has reports whether any of the aliases is present.
func (f Fields) Has(aliases ...string) bool {
	_, ok := f.First(aliases...)
	return ok
}

// JSON unmarshals the value stored under key (or a case variant of it) into v. This is the
// only way nested JSON carried by a payload is expanded.
func (f Fields) JSON(key string, v any) error {
	raw, ok := f.First(key)
	if !ok {
		return errors.Wrapf(ErrFieldMissing, "[Fields.JSON] %s", key)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return errors.Wrapf(err, "[Fields.JSON] %s", key)
	}
	return nil
}

// Encode serializes the fields as a query string ("?k=v&...") with keys in sorted order.
// Decode(f.Encode()) yields f again for well-formed payloads.
func (f Fields) Encode() string {
	if len(f) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteByte('?')
	for i, k := range f.sortedKeys() {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(escape(k))
		sb.WriteByte('=')
		sb.WriteString(escape(f[k]))
	}
	return sb.String()
}

func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func (f Fields) sortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// escape matches encodeURIComponent: spaces become %20 so the decoder's path unescaping
// restores them.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
