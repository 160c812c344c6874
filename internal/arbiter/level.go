package arbiter

import "fmt"

// MatchLevel is the trust level a file was authorized at, ordered from most
// to least specific.
type MatchLevel int

const (
	LevelAllowAllRule MatchLevel = iota
	LevelFileHash
	LevelCatalogHash
	LevelFilePath
	LevelWHQLFilePublisher
	LevelWHQLPublisher
	LevelWHQL
	LevelSignedVersion
	LevelFilePublisher
	LevelPublisher
	LevelPcaCertificateOrRootCertificate
	LevelLeafCertificate
	LevelNoMatch
)

var levelNames = [...]string{
	LevelAllowAllRule:                    "AllowAllRule",
	LevelFileHash:                        "FileHash",
	LevelCatalogHash:                     "CatalogHash",
	LevelFilePath:                        "FilePath",
	LevelWHQLFilePublisher:               "WHQLFilePublisher",
	LevelWHQLPublisher:                   "WHQLPublisher",
	LevelWHQL:                            "WHQL",
	LevelSignedVersion:                   "SignedVersion",
	LevelFilePublisher:                   "FilePublisher",
	LevelPublisher:                       "Publisher",
	LevelPcaCertificateOrRootCertificate: "PcaCertificateOrRootCertificate",
	LevelLeafCertificate:                 "LeafCertificate",
	LevelNoMatch:                         "NoMatch",
}

func (l MatchLevel) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return fmt.Sprintf("MatchLevel(%d)", int(l))
	}
	return levelNames[l]
}

// IsSignerLevel reports whether l is produced by signer arbitration rather
// than by a file rule.
func (l MatchLevel) IsSignerLevel() bool {
	return l >= LevelWHQLFilePublisher && l <= LevelNoMatch
}

// MarshalText implements encoding.TextMarshaler.
func (l MatchLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *MatchLevel) UnmarshalText(b []byte) error {
	lv, err := ParseMatchLevel(string(b))
	if err != nil {
		return err
	}
	*l = lv
	return nil
}

// ParseMatchLevel returns the level with the given name.
func ParseMatchLevel(s string) (MatchLevel, error) {
	for i, n := range levelNames {
		if n == s {
			return MatchLevel(i), nil
		}
	}
	return LevelNoMatch, fmt.Errorf("unknown match level %q", s)
}
