package arbiter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestMatchLevel_Order(t *testing.T) {
	ordered := []MatchLevel{
		LevelAllowAllRule, LevelFileHash, LevelCatalogHash, LevelFilePath,
		LevelWHQLFilePublisher, LevelWHQLPublisher, LevelWHQL,
		LevelSignedVersion, LevelFilePublisher, LevelPublisher,
		LevelPcaCertificateOrRootCertificate, LevelLeafCertificate, LevelNoMatch,
	}
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, ordered[i-1], ordered[i])
	}
}

func TestMatchLevel_IsSignerLevel(t *testing.T) {
	var signerLevels []MatchLevel
	for l := LevelAllowAllRule; l <= LevelNoMatch; l++ {
		if l.IsSignerLevel() {
			signerLevels = append(signerLevels, l)
		}
	}
	assert.Len(t, signerLevels, 9)
	assert.False(t, LevelFileHash.IsSignerLevel())
	assert.False(t, LevelCatalogHash.IsSignerLevel())
}

func TestMatchLevel_TextRoundTrip(t *testing.T) {
	b, err := json.Marshal(map[string]MatchLevel{"level": LevelPcaCertificateOrRootCertificate})
	require.NoError(t, err)
	assert.JSONEq(t, `{"level":"PcaCertificateOrRootCertificate"}`, string(b))

	var back map[string]MatchLevel
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, LevelPcaCertificateOrRootCertificate, back["level"])

	y, err := yaml.Marshal(struct {
		Level MatchLevel `yaml:"level"`
	}{LevelWHQL})
	require.NoError(t, err)
	assert.Equal(t, "level: WHQL\n", string(y))
}

func TestParseMatchLevel_Unknown(t *testing.T) {
	_, err := ParseMatchLevel("Thumbprint")
	assert.Error(t, err)
	assert.Equal(t, "MatchLevel(99)", MatchLevel(99).String())
}
