package natskv

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodePath maps a slash path to a KV key. Bytes outside [A-Za-z0-9_-] are
// written as =XX so team and station ids with dots, spaces or accents stay
// inside one key token.
func EncodePath(path string) string {
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		segs[i] = escape(seg)
	}
	return strings.Join(segs, ".")
}

func DecodeKey(key string) (string, error) {
	toks := strings.Split(key, ".")
	for i, tok := range toks {
		seg, err := unescape(tok)
		if err != nil {
			return "", fmt.Errorf("decode key %q: %w", key, err)
		}
		toks[i] = seg
	}
	return strings.Join(toks, "/"), nil
}

func escape(seg string) string {
	var b strings.Builder
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-' {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "=%02X", c)
	}
	return b.String()
}

func unescape(tok string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(tok); i++ {
		if tok[i] != '=' {
			b.WriteByte(tok[i])
			continue
		}
		if i+2 >= len(tok) {
			return "", fmt.Errorf("truncated escape at %d", i)
		}
		n, err := strconv.ParseUint(tok[i+1:i+3], 16, 8)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte(n))
		i += 2
	}
	return b.String(), nil
}
