package audit

import "net/url"

const upperHex = "0123456789ABCDEF"

// EscapeKey makes a parameter name safe to use as a document field name.
// Bytes in [A-Za-z0-9_~-] are kept; every other byte of the UTF-8 encoding,
// including '.', '$', '%' and NUL, becomes %XX with upper-case hex digits.
func EscapeKey(k string) string {
	n := 0
	for i := 0; i < len(k); i++ {
		if !keepByte(k[i]) {
			n++
		}
	}
	if n == 0 {
		return k
	}

	buf := make([]byte, 0, len(k)+2*n)
	for i := 0; i < len(k); i++ {
		c := k[i]
		if keepByte(c) {
			buf = append(buf, c)
			continue
		}
		buf = append(buf, '%', upperHex[c>>4], upperHex[c&0x0F])
	}
	return string(buf)
}

// UnescapeKey reverses EscapeKey.
func UnescapeKey(k string) (string, error) {
	return url.PathUnescape(k)
}

// EscapeParams returns a copy of params with every key escaped.
// Values pass through unchanged. A nil map yields an empty map.
func EscapeParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[EscapeKey(k)] = v
	}
	return out
}

// UnescapeParams reverses EscapeParams. A key that is not a valid escape
// sequence is kept as stored.
func UnescapeParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if orig, err := UnescapeKey(k); err == nil {
			k = orig
		}
		out[k] = v
	}
	return out
}

func keepByte(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	case c == '_' || c == '-' || c == '~':
		return true
	}
	return false
}
