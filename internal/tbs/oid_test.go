package tbs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexToOid(t *testing.T) {
	tests := []struct {
		name string
		hex  string
		want string
	}{
		{"whql", "010A2B0601040182370A0305", "1.3.6.1.4.1.311.10.3.5"},
		{"windows system component", "010A2B0601040182370A0306", "1.3.6.1.4.1.311.10.3.6"},
		{"code signing", "01082B06010505070303", "1.3.6.1.5.5.7.3.3"},
		{"lowercase input", "010a2b0601040182370a0305", "1.3.6.1.4.1.311.10.3.5"},
		{"placeholder ignored", "FF0A2B0601040182370A0305", "1.3.6.1.4.1.311.10.3.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HexToOid(tt.hex)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHexToOid_InvalidEncoding(t *testing.T) {
	for _, in := range []string{
		"",
		"01",
		"zz0A2B06",
		"010",
		"010A2B06",                   // length exceeds content
		"010A2B0601040182370A030500", // trailing bytes
	} {
		t.Run(in, func(t *testing.T) {
			_, err := HexToOid(in)
			assert.ErrorIs(t, err, ErrInvalidEncoding)
		})
	}
}

func TestOidToHex_RoundTrip(t *testing.T) {
	h, err := OidToHex("1.3.6.1.4.1.311.10.3.5")
	require.NoError(t, err)
	assert.Equal(t, "010A2B0601040182370A0305", h)

	oid, err := HexToOid(h)
	require.NoError(t, err)
	assert.Equal(t, "1.3.6.1.4.1.311.10.3.5", oid)

	_, err = OidToHex("not.an.oid")
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}
