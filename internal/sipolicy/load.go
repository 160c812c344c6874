package sipolicy

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrNotSiPolicy is returned when the document root is not SiPolicy.
var ErrNotSiPolicy = errors.New("document is not a SiPolicy")

// LoadFromFile reads and decodes a policy XML file.
func LoadFromFile(path string) (*Policy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	p, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a policy document. UTF-16 documents with a byte order mark,
// as written by the PowerShell ConfigCI cmdlets, are transcoded first.
func Parse(data []byte) (*Policy, error) {
	r, err := utf8Reader(data)
	if err != nil {
		return nil, err
	}
	dec := xml.NewDecoder(r)
	// Declarations claim utf-16 after transcoding; the bytes are UTF-8 by now.
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(charset) {
		case "utf-8", "utf8", "utf-16", "utf16", "unicode":
			return input, nil
		}
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}

	var p Policy
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if p.XMLName.Local != "SiPolicy" {
		return nil, ErrNotSiPolicy
	}
	return &p, nil
}

func utf8Reader(data []byte) (io.Reader, error) {
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}), bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		out, _, err := transform.Bytes(dec, data)
		if err != nil {
			return nil, fmt.Errorf("transcode utf-16: %w", err)
		}
		return bytes.NewReader(out), nil
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return bytes.NewReader(data[3:]), nil
	}
	return bytes.NewReader(data), nil
}
