package testutil

import (
	"encoding/binary"

	"golang.org/x/text/encoding/unicode"
)

// ResourceVA is the virtual address VersionSection places .rsrc at.
const ResourceVA = 0x10000

// VersionOptions describe a VS_VERSIONINFO resource.
type VersionOptions struct {
	FileVersion [4]uint16
	// Strings go into a single 040904b0 StringTable.
	Strings map[string]string
	// Keys orders Strings; keys missing from it are not written.
	Keys []string
}

// VersionSection returns a .rsrc section holding an RT_VERSION resource.
func VersionSection(opts VersionOptions) Section {
	return Section{Name: ".rsrc", VirtualAddress: ResourceVA, Data: ResourceDirectory(ResourceVA, VersionInfo(opts))}
}

// VersionInfo encodes a VS_VERSIONINFO block.
func VersionInfo(opts VersionOptions) []byte {
	fixed := make([]byte, 52)
	v := opts.FileVersion
	binary.LittleEndian.PutUint32(fixed[0:], 0xFEEF04BD)
	binary.LittleEndian.PutUint32(fixed[4:], 0x00010000)
	binary.LittleEndian.PutUint32(fixed[8:], uint32(v[0])<<16|uint32(v[1]))
	binary.LittleEndian.PutUint32(fixed[12:], uint32(v[2])<<16|uint32(v[3]))
	binary.LittleEndian.PutUint32(fixed[16:], uint32(v[0])<<16|uint32(v[1]))
	binary.LittleEndian.PutUint32(fixed[20:], uint32(v[2])<<16|uint32(v[3]))
	binary.LittleEndian.PutUint32(fixed[24:], 0x3f)
	binary.LittleEndian.PutUint32(fixed[32:], 0x00040004)
	binary.LittleEndian.PutUint32(fixed[36:], 1)

	var strs [][]byte
	for _, k := range opts.Keys {
		val, ok := opts.Strings[k]
		if !ok {
			continue
		}
		text := utf16le(val + "\x00")
		strs = append(strs, versionBlock(k, 1, text, uint16(len(text)/2), nil))
	}
	table := versionBlock("040904b0", 1, nil, 0, strs)
	sfi := versionBlock("StringFileInfo", 1, nil, 0, [][]byte{table})
	return versionBlock("VS_VERSION_INFO", 0, fixed, uint16(len(fixed)), [][]byte{sfi})
}

func versionBlock(key string, typ uint16, value []byte, valueLen uint16, children [][]byte) []byte {
	b := make([]byte, 6)
	b = append(b, utf16le(key+"\x00")...)
	b = pad4(b)
	b = append(b, value...)
	for _, c := range children {
		b = pad4(b)
		b = append(b, c...)
	}
	binary.LittleEndian.PutUint16(b[0:], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[2:], valueLen)
	binary.LittleEndian.PutUint16(b[4:], typ)
	return b
}

// ResourceDirectory lays out type 16 / id 1 / lang 0x409 pointing at data,
// for a section loaded at va.
func ResourceDirectory(va uint32, data []byte) []byte {
	const (
		typeDir   = 24
		langDir   = 48
		dataEntry = 72
		payload   = 88
	)
	b := make([]byte, payload, payload+len(data))
	dir := func(off int, id, target uint32) {
		binary.LittleEndian.PutUint16(b[off+14:], 1)
		binary.LittleEndian.PutUint32(b[off+16:], id)
		binary.LittleEndian.PutUint32(b[off+20:], target)
	}
	dir(0, 16, 0x80000000|typeDir)
	dir(typeDir, 1, 0x80000000|langDir)
	dir(langDir, 0x409, dataEntry)
	binary.LittleEndian.PutUint32(b[dataEntry:], va+payload)
	binary.LittleEndian.PutUint32(b[dataEntry+4:], uint32(len(data)))
	return append(b, data...)
}

func utf16le(s string) []byte {
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		panic(err)
	}
	return out
}

func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}
