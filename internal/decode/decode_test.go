package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		label     string
		expected  Scheme
		wantKnown bool
	}{
		{name: "base64 url variant", label: "base64url", expected: Base64URL, wantKnown: true},
		{name: "base64 url with separators", label: "B-64/URL", expected: Base64URL, wantKnown: true},
		{name: "plain base64", label: "base64", expected: Base64, wantKnown: true},
		{name: "capitalized base64", label: "Base64", expected: Base64, wantKnown: true},
		{name: "punctuated base64", label: "b-64", expected: Base64, wantKnown: true},
		{name: "prefixed base64", label: "quoted-encoding=base64", expected: Base64, wantKnown: true},
		{name: "ucs2", label: "ucs2", expected: UTF16LE, wantKnown: true},
		{name: "ucs-2 hyphenated", label: "UCS-2", expected: UTF16LE, wantKnown: true},
		{name: "utf16", label: "utf-16", expected: UTF16LE, wantKnown: true},
		{name: "utf8", label: "utf-8", expected: UTF8, wantKnown: true},
		{name: "utf8 no hyphen", label: "UTF8", expected: UTF8, wantKnown: true},
		{name: "binary maps to latin1", label: "binary", expected: Latin1, wantKnown: true},
		{name: "latin1", label: "latin-1", expected: Latin1, wantKnown: true},
		{name: "ascii", label: "us-ascii", expected: ASCII, wantKnown: true},
		{name: "ascii 7bit label", label: "ascii", expected: ASCII, wantKnown: true},
		{name: "unknown falls back to utf8", label: "7bit", expected: UTF8, wantKnown: false},
		{name: "empty label falls back to utf8", label: "", expected: UTF8, wantKnown: false},
		{name: "quoted-printable is not recognized", label: "quoted-printable", expected: UTF8, wantKnown: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scheme, known := Resolve(tt.label)
			assert.Equal(t, tt.expected, scheme)
			assert.Equal(t, tt.wantKnown, known)
		})
	}
}

func TestResolveOrdering(t *testing.T) {
	// A label carrying several markers resolves to the first match:
	// base64 beats url-less schemes, url narrows base64.
	scheme, known := Resolve("base64-utf8")
	assert.Equal(t, Base64, scheme)
	assert.True(t, known)

	scheme, known = Resolve("utf-16-ascii")
	assert.Equal(t, UTF16LE, scheme)
	assert.True(t, known)
}

func TestText(t *testing.T) {
	tests := []struct {
		name     string
		scheme   Scheme
		raw      []byte
		expected string
		wantErr  bool
	}{
		{name: "base64", scheme: Base64, raw: []byte("SGVsbG8="), expected: "Hello"},
		{name: "base64 wrapped lines", scheme: Base64, raw: []byte("SGVs\r\nbG8="), expected: "Hello"},
		{name: "base64 invalid", scheme: Base64, raw: []byte("!!!"), wantErr: true},
		{name: "base64url alphabet", scheme: Base64URL, raw: []byte("-_8"), expected: "\xfb\xff"},
		{name: "base64url padded input", scheme: Base64URL, raw: []byte("SGVsbG8="), expected: "Hello"},
		{name: "utf8 passthrough", scheme: UTF8, raw: []byte("héllo"), expected: "héllo"},
		{name: "utf16le", scheme: UTF16LE, raw: []byte{'H', 0, 'i', 0}, expected: "Hi"},
		{name: "latin1 high bytes", scheme: Latin1, raw: []byte{0xe9}, expected: "é"},
		{name: "ascii strips high bit", scheme: ASCII, raw: []byte{0xc8, 'i'}, expected: "Hi"},
		{name: "empty input", scheme: Base64, raw: nil, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := Text(tt.scheme, tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, text)
		})
	}
}
