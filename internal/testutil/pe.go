package testutil

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"testing"
)

const (
	fileAlignment    = 0x200
	sectionAlignment = 0x1000
)

// Section is a PE section to emit.
type Section struct {
	Name string
	// VirtualAddress defaults to 0x1000 * (index+1).
	VirtualAddress uint32
	Data           []byte
}

// PEOptions describe a minimal PE32 image.
type PEOptions struct {
	Sections []Section
	// Signatures are ContentInfo blobs, each written as one WIN_CERTIFICATE.
	Signatures [][]byte
	// Trailer is appended after the certificate table.
	Trailer []byte
}

// BuildPE returns a PE32 image debug/pe can parse. A section named ".rsrc"
// is registered as the resource directory.
func BuildPE(t testing.TB, opts PEOptions) []byte {
	t.Helper()

	const optSize = 224
	headerLen := 0x40 + 4 + 20 + optSize + 40*len(opts.Sections)
	sizeOfHeaders := align(headerLen, fileAlignment)

	type placed struct {
		hdr  pe.SectionHeader32
		data []byte
	}
	var sections []placed
	raw := sizeOfHeaders
	imageEnd := uint32(sectionAlignment)
	oh := pe.OptionalHeader32{
		Magic:               0x10b,
		ImageBase:           0x400000,
		SectionAlignment:    sectionAlignment,
		FileAlignment:       fileAlignment,
		SizeOfHeaders:       uint32(sizeOfHeaders),
		Subsystem:           3,
		NumberOfRvaAndSizes: 16,
	}
	for i, s := range opts.Sections {
		va := s.VirtualAddress
		if va == 0 {
			va = uint32(sectionAlignment * (i + 1))
		}
		var h pe.SectionHeader32
		copy(h.Name[:], s.Name)
		h.VirtualSize = uint32(len(s.Data))
		h.VirtualAddress = va
		h.SizeOfRawData = uint32(align(len(s.Data), fileAlignment))
		h.PointerToRawData = uint32(raw)
		h.Characteristics = 0x40000040
		raw += int(h.SizeOfRawData)
		if end := va + uint32(align(len(s.Data), sectionAlignment)); end > imageEnd {
			imageEnd = end
		}
		if s.Name == ".rsrc" {
			oh.DataDirectory[2] = pe.DataDirectory{VirtualAddress: va, Size: uint32(len(s.Data))}
		}
		sections = append(sections, placed{hdr: h, data: s.Data})
	}
	oh.SizeOfImage = imageEnd

	var table []byte
	for _, sig := range opts.Signatures {
		table = append(table, WinCertificate(sig)...)
	}
	certOffset := align(raw, 8)
	if len(table) > 0 {
		oh.DataDirectory[4] = pe.DataDirectory{VirtualAddress: uint32(certOffset), Size: uint32(len(table))}
	}

	var buf bytes.Buffer
	dos := make([]byte, 0x40)
	dos[0], dos[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(dos[0x3c:], 0x40)
	buf.Write(dos)
	buf.WriteString("PE\x00\x00")
	write(t, &buf, pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_I386,
		NumberOfSections:     uint16(len(sections)),
		SizeOfOptionalHeader: optSize,
		Characteristics:      0x0102,
	})
	write(t, &buf, oh)
	for _, s := range sections {
		write(t, &buf, s.hdr)
	}
	pad(&buf, sizeOfHeaders)
	for _, s := range sections {
		buf.Write(s.data)
		pad(&buf, int(s.hdr.PointerToRawData+s.hdr.SizeOfRawData))
	}
	if len(table) > 0 {
		pad(&buf, certOffset)
		buf.Write(table)
	}
	buf.Write(opts.Trailer)
	return buf.Bytes()
}

// WinCertificate wraps a PKCS#7 blob in a revision 2 WIN_CERTIFICATE,
// padded to a quadword boundary.
func WinCertificate(signedData []byte) []byte {
	length := 8 + len(signedData)
	out := make([]byte, align(length, 8))
	binary.LittleEndian.PutUint32(out[0:4], uint32(length))
	binary.LittleEndian.PutUint16(out[4:6], 0x0200)
	binary.LittleEndian.PutUint16(out[6:8], 0x0002)
	copy(out[8:], signedData)
	return out
}

func write(t testing.TB, buf *bytes.Buffer, v any) {
	t.Helper()
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		t.Fatalf("write %T: %v", v, err)
	}
}

func pad(buf *bytes.Buffer, to int) {
	for buf.Len() < to {
		buf.WriteByte(0)
	}
}

func align(n, a int) int {
	return (n + a - 1) / a * a
}
