// Package peinfo reads the version resource of PE images.
package peinfo

import (
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

const (
	resourceDirectoryIndex = 2
	rtVersion              = 16
	fixedFileInfoSignature = 0xFEEF04BD
	maxResourceDepth       = 3
)

var errBadResource = errors.New("malformed version resource")

// VersionInfo holds the attributes policies match files on. Absent values
// are empty.
type VersionInfo struct {
	OriginalFileName string
	InternalName     string
	ProductName      string
	FileDescription  string
	// FileVersion comes from VS_FIXEDFILEINFO, or from the FileVersion
	// string when the fixed block is missing.
	FileVersion string
	// Strings holds every StringFileInfo entry of the first string table.
	Strings map[string]string
}

// ReadVersionInfo reads the RT_VERSION resource of the PE file at path.
// Images without one yield an empty VersionInfo.
func ReadVersionInfo(path string) (VersionInfo, error) {
	f, err := pe.Open(path)
	if err != nil {
		return VersionInfo{}, fmt.Errorf("parse pe: %w", err)
	}
	defer f.Close()
	return readVersionInfo(f)
}

func readVersionInfo(f *pe.File) (VersionInfo, error) {
	var dir pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if oh.NumberOfRvaAndSizes > resourceDirectoryIndex {
			dir = oh.DataDirectory[resourceDirectoryIndex]
		}
	case *pe.OptionalHeader64:
		if oh.NumberOfRvaAndSizes > resourceDirectoryIndex {
			dir = oh.DataDirectory[resourceDirectoryIndex]
		}
	}
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return VersionInfo{}, nil
	}

	sec := sectionFor(f, dir.VirtualAddress)
	if sec == nil {
		return VersionInfo{}, nil
	}
	data, err := sec.Data()
	if err != nil {
		return VersionInfo{}, fmt.Errorf("read %s: %w", sec.Name, err)
	}
	rsrc := resources{data: data, base: dir.VirtualAddress - sec.VirtualAddress, sectionVA: sec.VirtualAddress}

	blob, err := rsrc.find(rtVersion)
	if err != nil || blob == nil {
		return VersionInfo{}, err
	}
	return parseVersionInfo(blob)
}

func sectionFor(f *pe.File, rva uint32) *pe.Section {
	for _, s := range f.Sections {
		size := s.VirtualSize
		if size == 0 {
			size = s.Size
		}
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+size {
			return s
		}
	}
	return nil
}

// resources walks an IMAGE_RESOURCE_DIRECTORY tree. Offsets inside the
// tree are relative to its root; data entries hold RVAs.
type resources struct {
	data      []byte
	base      uint32
	sectionVA uint32
}

// find returns the first language's data for the first name of the type.
func (r resources) find(typeID uint32) ([]byte, error) {
	off := uint32(0)
	for depth := 0; depth < maxResourceDepth; depth++ {
		want := int64(-1)
		if depth == 0 {
			want = int64(typeID)
		}
		next, isDir, ok, err := r.entry(off, want)
		if err != nil || !ok {
			return nil, err
		}
		if !isDir {
			return r.dataEntry(next)
		}
		off = next
	}
	return nil, fmt.Errorf("%w: directory too deep", errBadResource)
}

// entry looks up id in the directory at off, or takes the first entry when
// id is negative.
func (r resources) entry(off uint32, id int64) (target uint32, isDir, ok bool, err error) {
	hdr, err := r.slice(off, 16)
	if err != nil {
		return 0, false, false, err
	}
	count := uint32(binary.LittleEndian.Uint16(hdr[12:])) + uint32(binary.LittleEndian.Uint16(hdr[14:]))
	for i := uint32(0); i < count; i++ {
		e, err := r.slice(off+16+i*8, 8)
		if err != nil {
			return 0, false, false, err
		}
		name := binary.LittleEndian.Uint32(e[0:])
		to := binary.LittleEndian.Uint32(e[4:])
		if id >= 0 && (name&0x80000000 != 0 || int64(name) != id) {
			continue
		}
		return to &^ 0x80000000, to&0x80000000 != 0, true, nil
	}
	return 0, false, false, nil
}

func (r resources) dataEntry(off uint32) ([]byte, error) {
	e, err := r.slice(off, 16)
	if err != nil {
		return nil, err
	}
	rva := binary.LittleEndian.Uint32(e[0:])
	size := binary.LittleEndian.Uint32(e[4:])
	if rva < r.sectionVA {
		return nil, fmt.Errorf("%w: data rva %#x outside section", errBadResource, rva)
	}
	start := uint64(rva - r.sectionVA)
	if start+uint64(size) > uint64(len(r.data)) {
		return nil, fmt.Errorf("%w: data [%#x,+%d) outside section", errBadResource, rva, size)
	}
	return r.data[start : start+uint64(size)], nil
}

func (r resources) slice(off, n uint32) ([]byte, error) {
	start := uint64(r.base) + uint64(off)
	if start+uint64(n) > uint64(len(r.data)) {
		return nil, fmt.Errorf("%w: offset %#x out of range", errBadResource, off)
	}
	return r.data[start : start+uint64(n)], nil
}

// block is one node of a VS_VERSIONINFO tree.
type block struct {
	key      string
	value    []byte
	text     bool
	children []byte
}

func readBlock(b []byte) (block, int, error) {
	if len(b) < 6 {
		return block{}, 0, fmt.Errorf("%w: short block", errBadResource)
	}
	length := int(binary.LittleEndian.Uint16(b[0:]))
	if length < 6 || length > len(b) {
		return block{}, 0, fmt.Errorf("%w: block length %d", errBadResource, length)
	}
	valueLen := int(binary.LittleEndian.Uint16(b[2:]))
	blk := block{text: binary.LittleEndian.Uint16(b[4:]) == 1}

	i := 6
	for i+1 < length && (b[i] != 0 || b[i+1] != 0) {
		i += 2
	}
	key, err := decodeUTF16(b[6:i])
	if err != nil {
		return block{}, 0, err
	}
	blk.key = key
	i = align4(i + 2)

	if blk.text {
		valueLen *= 2
	}
	if i > length {
		i = length
	}
	if i+valueLen > length {
		valueLen = length - i
	}
	blk.value = b[i : i+valueLen]
	i = align4(i + valueLen)
	if i < length {
		blk.children = b[i:length]
	}
	return blk, min(align4(length), len(b)), nil
}

func eachChild(b []byte, fn func(block) error) error {
	for len(b) >= 6 {
		blk, n, err := readBlock(b)
		if err != nil {
			return err
		}
		if err := fn(blk); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func parseVersionInfo(data []byte) (VersionInfo, error) {
	root, _, err := readBlock(data)
	if err != nil {
		return VersionInfo{}, err
	}
	if root.key != "VS_VERSION_INFO" {
		return VersionInfo{}, fmt.Errorf("%w: root key %q", errBadResource, root.key)
	}

	info := VersionInfo{Strings: map[string]string{}}
	if len(root.value) >= 52 && binary.LittleEndian.Uint32(root.value) == fixedFileInfoSignature {
		ms := binary.LittleEndian.Uint32(root.value[8:])
		ls := binary.LittleEndian.Uint32(root.value[12:])
		info.FileVersion = fmt.Sprintf("%d.%d.%d.%d", ms>>16, ms&0xffff, ls>>16, ls&0xffff)
	}

	tables := 0
	err = eachChild(root.children, func(child block) error {
		if child.key != "StringFileInfo" {
			return nil
		}
		return eachChild(child.children, func(table block) error {
			tables++
			if tables > 1 {
				return nil
			}
			return eachChild(table.children, func(s block) error {
				v, err := decodeUTF16(s.value)
				if err != nil {
					return err
				}
				info.Strings[s.key] = strings.TrimRight(v, "\x00")
				return nil
			})
		})
	})
	if err != nil {
		return VersionInfo{}, err
	}

	info.OriginalFileName = info.Strings["OriginalFilename"]
	info.InternalName = info.Strings["InternalName"]
	info.ProductName = info.Strings["ProductName"]
	info.FileDescription = info.Strings["FileDescription"]
	if info.FileVersion == "" {
		// String versions often carry a suffix such as "1.2.3.4 (build)".
		if fields := strings.Fields(info.Strings["FileVersion"]); len(fields) > 0 {
			info.FileVersion = fields[0]
		}
	}
	return info, nil
}

func decodeUTF16(b []byte) (string, error) {
	if len(b)%2 == 1 {
		b = b[:len(b)-1]
	}
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errBadResource, err)
	}
	return string(out), nil
}

func align4(n int) int { return (n + 3) &^ 3 }
