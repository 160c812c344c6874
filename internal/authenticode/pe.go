package authenticode

import (
	"debug/pe"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	certificateTableIndex = 4 // IMAGE_DIRECTORY_ENTRY_SECURITY

	winCertRevision2       = 0x0200
	winCertTypePKCSSigned  = 0x0002
	winCertificateHdrSize  = 8
	maxCertificateTableLen = 64 << 20
)

// layout locates the fields an Authenticode digest skips.
type layout struct {
	checksumOffset int64
	certDirOffset  int64
	certOffset     int64
	certSize       int64
	size           int64
}

func readLayout(r io.ReaderAt, size int64) (*layout, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPE, err)
	}
	defer f.Close()

	var lfanew [4]byte
	if _, err := r.ReadAt(lfanew[:], 0x3c); err != nil {
		return nil, fmt.Errorf("read e_lfanew: %w", err)
	}
	optHeader := int64(binary.LittleEndian.Uint32(lfanew[:])) + 4 + 20

	l := &layout{checksumOffset: optHeader + 64, size: size}
	var dirs []pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		l.certDirOffset = optHeader + 96 + certificateTableIndex*8
		dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	case *pe.OptionalHeader64:
		l.certDirOffset = optHeader + 112 + certificateTableIndex*8
		dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	default:
		return nil, fmt.Errorf("%w: no optional header", ErrNotPE)
	}
	if len(dirs) > certificateTableIndex {
		// The security directory address is a file offset, not an RVA.
		l.certOffset = int64(dirs[certificateTableIndex].VirtualAddress)
		l.certSize = int64(dirs[certificateTableIndex].Size)
	}
	if l.certSize > 0 && (l.certOffset+l.certSize > size || l.certSize > maxCertificateTableLen) {
		return nil, fmt.Errorf("certificate table [%d,+%d) outside file of %d bytes", l.certOffset, l.certSize, size)
	}
	return l, nil
}

// ReadSignatures returns every Authenticode signature embedded in the PE
// file at path, outer signatures before the ones nested inside them.
func ReadSignatures(path string) ([]*Signature, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return readSignatures(f, st.Size())
}

func readSignatures(r io.ReaderAt, size int64) ([]*Signature, error) {
	l, err := readLayout(r, size)
	if err != nil {
		return nil, err
	}
	if l.certSize == 0 {
		return nil, ErrNotSigned
	}
	table := make([]byte, l.certSize)
	if _, err := r.ReadAt(table, l.certOffset); err != nil {
		return nil, fmt.Errorf("read certificate table: %w", err)
	}

	var out []*Signature
	for len(table) >= winCertificateHdrSize {
		length := binary.LittleEndian.Uint32(table[0:4])
		revision := binary.LittleEndian.Uint16(table[4:6])
		certType := binary.LittleEndian.Uint16(table[6:8])
		if length < winCertificateHdrSize || int64(length) > int64(len(table)) {
			return nil, fmt.Errorf("%w: WIN_CERTIFICATE length %d", ErrMalformed, length)
		}
		if revision == winCertRevision2 && certType == winCertTypePKCSSigned {
			sigs, err := ParseSignedData(trimDER(table[winCertificateHdrSize:length]))
			if err != nil {
				return nil, err
			}
			out = append(out, sigs...)
		}
		// Entries are quadword aligned.
		next := (int(length) + 7) &^ 7
		if next >= len(table) {
			break
		}
		table = table[next:]
	}
	if len(out) == 0 {
		return nil, ErrNotSigned
	}
	return out, nil
}

// trimDER drops the zero padding some signers leave after the DER blob.
func trimDER(b []byte) []byte {
	if len(b) < 2 || b[0] != 0x30 {
		return b
	}
	var n, hdr int
	switch l := int(b[1]); {
	case l < 0x80:
		n, hdr = l, 2
	case l == 0x81 && len(b) >= 3:
		n, hdr = int(b[2]), 3
	case l == 0x82 && len(b) >= 4:
		n, hdr = int(b[2])<<8|int(b[3]), 4
	case l == 0x83 && len(b) >= 5:
		n, hdr = int(b[2])<<16|int(b[3])<<8|int(b[4]), 5
	default:
		return b
	}
	if hdr+n <= len(b) {
		return b[:hdr+n]
	}
	return b
}
