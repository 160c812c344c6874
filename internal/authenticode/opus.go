package authenticode

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
	"golang.org/x/text/encoding/unicode"
)

var (
	tagSpcProgramName = cbasn1.Tag(0).ContextSpecific().Constructed()
	tagSpcUnicode     = cbasn1.Tag(0).ContextSpecific()
	tagSpcASCII       = cbasn1.Tag(1).ContextSpecific()
)

// OpusInfo returns the SpcSpOpusInfo program name of every SignerInfo in a
// signed message. Signers without one, or with an undecodable one, are
// skipped.
func OpusInfo(signedMessage []byte) ([]string, error) {
	sd, err := decodeContentInfo(signedMessage)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, si := range sd.signers {
		for _, attr := range si.signedAttrs {
			if attr.Type != oidSpcSpOpusInfo.String() || len(attr.Values) == 0 {
				continue
			}
			name, err := programName(attr.Values[0])
			if err == nil && name != "" {
				out = append(out, name)
			}
		}
	}
	return out, nil
}

//	SpcSpOpusInfo ::= SEQUENCE {
//	    programName  [0] EXPLICIT SpcString OPTIONAL,
//	    moreInfo     [1] EXPLICIT SpcLink OPTIONAL }
//
//	SpcString ::= CHOICE {
//	    unicode  [0] IMPLICIT BMPString,
//	    ascii    [1] IMPLICIT IA5String }
func programName(der []byte) (string, error) {
	input := cryptobyte.String(der)
	var opus cryptobyte.String
	if !input.ReadASN1(&opus, cbasn1.SEQUENCE) {
		return "", fmt.Errorf("%w: opus info is not a SEQUENCE", ErrMalformed)
	}
	var name cryptobyte.String
	var present bool
	if !opus.ReadOptionalASN1(&name, &present, tagSpcProgramName) {
		return "", fmt.Errorf("%w: opus program name", ErrMalformed)
	}
	if !present {
		return "", nil
	}
	var value cryptobyte.String
	switch {
	case name.PeekASN1Tag(tagSpcUnicode):
		if name.ReadASN1(&value, tagSpcUnicode) {
			return decodeBMP(value)
		}
	case name.PeekASN1Tag(tagSpcASCII):
		if name.ReadASN1(&value, tagSpcASCII) {
			return string(value), nil
		}
	}
	return "", fmt.Errorf("%w: opus program name encoding", ErrMalformed)
}

func decodeBMP(b []byte) (string, error) {
	dec := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
	s, err := dec.Bytes(b)
	if err != nil {
		return "", fmt.Errorf("%w: BMPString: %v", ErrMalformed, err)
	}
	return string(s), nil
}
