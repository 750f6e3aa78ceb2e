package payload

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

var (
	schemePattern  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*:`)
	base64Alphabet = regexp.MustCompile(`^[A-Za-z0-9+/_\-]+={0,2}$`)
)

// Decode parses a provider callback into a flat field map. The input may be a URL carrying
// query and/or fragment parameters, a raw JSON object, base64-wrapped JSON, a bare
// form-encoded body, or JSON surrounded by unrelated text. Decode never fails: when nothing
// can be parsed the result is empty and callers check for the keys they need.
func Decode(input string) Fields {
	fields := Fields{}
	input = strings.TrimSpace(input)
	if input == "" {
		return fields
	}

	if strings.HasPrefix(input, "{") {
		if obj, ok := parseObject(input); ok {
			fields.mergeObject(obj)
			return fields
		}
	}

	bare := !schemePattern.MatchString(input) && !strings.ContainsAny(input, "?#")
	if bare {
		if obj, ok := decodeBase64Object(input); ok {
			fields.mergeObject(obj)
			return fields
		}
		if strings.Contains(input, "=") && !strings.ContainsAny(input, "{}") {
			if fields.mergeSegment(input) > 0 {
				return fields
			}
		}
	}

	// JSON that starts before any '?' or '#' is the payload; separators inside it belong to
	// its values (e.g. a redirect URL).
	if brace := strings.Index(input, "{"); brace >= 0 {
		sep := strings.IndexAny(input, "?#")
		if sep < 0 || brace < sep {
			if obj, ok := extractObject(input); ok {
				fields.mergeObject(obj)
				return fields
			}
		}
	}

	if query, fragment, ok := splitURL(input); ok {
		pairs := fields.mergeSegment(query)
		pairs += fields.mergeSegment(fragment)
		if pairs > 0 {
			return fields
		}
	}

	if obj, ok := extractObject(input); ok {
		fields.mergeObject(obj)
	}
	return fields
}

// ParseJSONObject parses input as a JSON object, falling back to the text between the first
// '{' and the last '}' when the object is surrounded by noise.
func ParseJSONObject(input string) (map[string]json.RawMessage, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, false
	}
	if obj, ok := parseObject(input); ok {
		return obj, true
	}
	return extractObject(input)
}

// splitURL returns the query segment (between the first '?' and the first '#') and the
// fragment segment (after the first '#').
func splitURL(input string) (query, fragment string, ok bool) {
	q := strings.Index(input, "?")
	h := strings.Index(input, "#")
	if q < 0 && h < 0 {
		return "", "", false
	}
	if q >= 0 && (h < 0 || q < h) {
		end := len(input)
		if h >= 0 {
			end = h
		}
		query = input[q+1 : end]
	}
	if h >= 0 {
		fragment = input[h+1:]
	}
	return query, fragment, true
}

// mergeSegment merges an '&'-separated list of key=value pairs and returns how many pairs
// carried an '=' separator.
func (f Fields) mergeSegment(segment string) int {
	pairs := 0
	for _, part := range strings.Split(segment, "&") {
		if part == "" {
			continue
		}
		rawKey, rawValue, found := strings.Cut(part, "=")
		key := unescape(rawKey)
		if key == "" {
			continue
		}
		value := unescape(rawValue)
		f[key] = value
		if found {
			pairs++
		}
		if obj, ok := decodeBase64Object(value); ok {
			f.mergeObject(obj)
		}
	}
	return pairs
}

// mergeObject copies the top-level members of obj. Nested objects and arrays keep their
// compact JSON text; nulls are treated as absent.
func (f Fields) mergeObject(obj map[string]json.RawMessage) {
	for key, raw := range obj {
		if value, ok := rawString(raw); ok {
			f[key] = value
		}
	}
}

func rawString(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false
		}
		return s, true
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return string(trimmed), true
	}
	return buf.String(), true
}

func unescape(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

func decodeBase64Object(value string) (map[string]json.RawMessage, bool) {
	if value == "" || len(value)%4 != 0 || !base64Alphabet.MatchString(value) {
		return nil, false
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding} {
		decoded, err := enc.DecodeString(value)
		if err != nil {
			continue
		}
		decoded = bytes.TrimSpace(decoded)
		if len(decoded) == 0 || decoded[0] != '{' {
			continue
		}
		if obj, ok := parseObject(string(decoded)); ok {
			return obj, true
		}
	}
	return nil, false
}

func parseObject(s string) (map[string]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func extractObject(s string) (map[string]json.RawMessage, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	return parseObject(s[start : end+1])
}
