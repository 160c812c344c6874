package authenticode

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// Digest algorithm names used as keys by Digests.
const (
	SHA1   = "SHA1"
	SHA256 = "SHA256"
)

// Digests returns the Authenticode image digests of the PE file at path,
// upper-case hex keyed by algorithm. The checksum, the certificate table
// directory entry and the certificate table itself are excluded.
func Digests(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return digests(f, st.Size())
}

func digests(r io.ReaderAt, size int64) (map[string]string, error) {
	l, err := readLayout(r, size)
	if err != nil {
		return nil, err
	}
	h1, h256 := sha1.New(), sha256.New()
	w := io.MultiWriter(h1, h256)

	type span struct{ from, to int64 }
	end := size
	if l.certSize > 0 {
		end = l.certOffset
	}
	spans := []span{
		{0, l.checksumOffset},
		{l.checksumOffset + 4, l.certDirOffset},
		{l.certDirOffset + 8, end},
	}
	if l.certSize > 0 && l.certOffset+l.certSize < size {
		spans = append(spans, span{l.certOffset + l.certSize, size})
	}
	for _, s := range spans {
		if s.to <= s.from {
			continue
		}
		if _, err := io.Copy(w, io.NewSectionReader(r, s.from, s.to-s.from)); err != nil {
			return nil, fmt.Errorf("hash image: %w", err)
		}
	}
	return map[string]string{
		SHA1:   hexSum(h1),
		SHA256: hexSum(h256),
	}, nil
}

// FlatDigests hashes the whole file at path. Policies identify scripts and
// other non-PE files by these digests.
func FlatDigests(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h1, h256 := sha1.New(), sha256.New()
	if _, err := io.Copy(io.MultiWriter(h1, h256), f); err != nil {
		return nil, fmt.Errorf("hash file: %w", err)
	}
	return map[string]string{
		SHA1:   hexSum(h1),
		SHA256: hexSum(h256),
	}, nil
}

func hexSum(h hash.Hash) string {
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}
