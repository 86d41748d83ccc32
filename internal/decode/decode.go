// Package decode maps free-form transfer-encoding labels to canonical
// decode schemes and turns raw body-part text into readable strings.
//
// Labels seen in the wild are inconsistently capitalized and punctuated
// ("Base64", "b-64", "quoted-encoding=base64"), so resolution is
// substring-tolerant rather than an exact-match enumeration.
package decode

import (
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Scheme is a canonical decode scheme for one body part.
type Scheme int

const (
	Base64URL Scheme = iota
	Base64
	UTF16LE
	UTF8
	Latin1
	ASCII
)

func (s Scheme) String() string {
	switch s {
	case Base64URL:
		return "base64url"
	case Base64:
		return "base64"
	case UTF16LE:
		return "utf16le"
	case UTF8:
		return "utf8"
	case Latin1:
		return "latin1"
	case ASCII:
		return "ascii"
	default:
		return "unknown"
	}
}

// Resolve maps a transfer-encoding label to a Scheme. The second return
// is false when the label matched no known marker and the utf8 fallback
// was chosen; callers treat that as a warning, not an error. Matching is
// ordered, first match wins.
func Resolve(label string) (Scheme, bool) {
	norm := strings.ToLower(label)

	hasBase64 := strings.Contains(norm, "b") && strings.Contains(norm, "64")
	switch {
	case hasBase64 && strings.Contains(norm, "url"):
		return Base64URL, true
	case hasBase64:
		return Base64, true
	case strings.Contains(norm, "ucs") && strings.Contains(norm, "2"),
		strings.Contains(norm, "utf") && strings.Contains(norm, "16"):
		return UTF16LE, true
	case strings.Contains(norm, "utf") && strings.Contains(norm, "8"):
		return UTF8, true
	case strings.Contains(norm, "binary"), strings.Contains(norm, "latin"):
		return Latin1, true
	case strings.Contains(norm, "ascii"):
		return ASCII, true
	}
	return UTF8, false
}

// Text decodes one body part. The raw octets are first read as text and
// the text's bytes are then re-decoded under the resolved scheme. Mail
// transport nests a textual transfer-encoding over raw octets, and this
// two-stage pass matches how existing deployments consumed the content;
// keep it even where a single-stage decode would look more correct.
func Text(scheme Scheme, raw []byte) (string, error) {
	text := string(raw)

	switch scheme {
	case Base64URL:
		decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(stripSpace(text), "="))
		if err != nil {
			return "", errors.Wrap(err, "decode base64url")
		}
		return string(decoded), nil
	case Base64:
		decoded, err := base64.StdEncoding.DecodeString(stripSpace(text))
		if err != nil {
			return "", errors.Wrap(err, "decode base64")
		}
		return string(decoded), nil
	case UTF16LE:
		dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
		decoded, err := dec.Bytes([]byte(text))
		if err != nil {
			return "", errors.Wrap(err, "decode utf16le")
		}
		return string(decoded), nil
	case Latin1:
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes([]byte(text))
		if err != nil {
			return "", errors.Wrap(err, "decode latin1")
		}
		return string(decoded), nil
	case ASCII:
		out := []byte(text)
		for i := range out {
			out[i] &= 0x7f
		}
		return string(out), nil
	default: // UTF8
		return text, nil
	}
}

// stripSpace removes whitespace so base64 bodies wrapped at transport
// line length still decode.
func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}
