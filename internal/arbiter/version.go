package arbiter

import (
	"fmt"
	"strconv"
	"strings"
)

// fileVersion is a four-part Windows file version.
type fileVersion [4]uint16

// parseVersion accepts two to four dot-separated parts, each 0..65535.
// Missing trailing parts are zero.
func parseVersion(s string) (fileVersion, error) {
	var v fileVersion
	s = strings.TrimSpace(s)
	if s == "" {
		return v, fmt.Errorf("empty version")
	}
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return v, fmt.Errorf("version %q needs at least major.minor", s)
	}
	if len(parts) > 4 {
		return v, fmt.Errorf("version %q has more than four parts", s)
	}
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return v, fmt.Errorf("version %q: %w", s, err)
		}
		v[i] = uint16(n)
	}
	return v, nil
}

func (v fileVersion) compare(o fileVersion) int {
	for i := range v {
		switch {
		case v[i] < o[i]:
			return -1
		case v[i] > o[i]:
			return 1
		}
	}
	return 0
}

func (v fileVersion) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v[0], v[1], v[2], v[3])
}
