package tbs

import (
	encasn1 "encoding/asn1"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/cryptobyte"
)

// tagObjectIdentifier is the universal ASN.1 tag for OBJECT IDENTIFIER.
const tagObjectIdentifier = 0x06

// HexToOid converts a policy EKU value into a dotted OID.
//
// Policy EKU values are stored as the DER encoding of the OID with the tag
// byte replaced by a placeholder (usually 01), e.g. 010A2B0601040182370A0305
// for 1.3.6.1.4.1.311.10.3.5. The first byte is rewritten to the
// OBJECT IDENTIFIER tag and the remainder decoded.
func HexToOid(value string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if len(raw) < 3 {
		return "", fmt.Errorf("%w: oid value too short", ErrInvalidEncoding)
	}
	raw[0] = tagObjectIdentifier

	input := cryptobyte.String(raw)
	var oid encasn1.ObjectIdentifier
	if !input.ReadASN1ObjectIdentifier(&oid) || !input.Empty() {
		return "", fmt.Errorf("%w: malformed object identifier %q", ErrInvalidEncoding, value)
	}
	return oid.String(), nil
}

// OidToHex is the inverse of HexToOid. The placeholder tag byte is 01, the
// form policy authoring tools emit.
func OidToHex(oid string) (string, error) {
	parsed, err := parseDotted(oid)
	if err != nil {
		return "", err
	}
	der, err := encasn1.Marshal(parsed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	der[0] = 0x01
	return strings.ToUpper(hex.EncodeToString(der)), nil
}

func parseDotted(oid string) (encasn1.ObjectIdentifier, error) {
	parts := strings.Split(strings.TrimSpace(oid), ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: oid %q has fewer than two arcs", ErrInvalidEncoding, oid)
	}
	out := make(encasn1.ObjectIdentifier, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: oid %q has invalid arc %q", ErrInvalidEncoding, oid, p)
		}
		out = append(out, n)
	}
	return out, nil
}
