package config

import (
	"fmt"
	"strconv"
	"strings"
)

var byteSuffixes = []struct {
	suffix string
	mult   int64
}{
	// Longest suffixes first so "MIB" is not read as "B".
	{"KIB", 1 << 10},
	{"MIB", 1 << 20},
	{"GIB", 1 << 30},
	{"KB", 1000},
	{"MB", 1000 * 1000},
	{"GB", 1000 * 1000 * 1000},
	{"B", 1},
}

// ParseByteSize parses sizes such as "512MB", "64KiB" or "1_000".
func ParseByteSize(s string) (int64, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return 0, fmt.Errorf("empty size")
	}
	upper := strings.ToUpper(strings.ReplaceAll(in, "_", ""))

	mult := int64(1)
	for _, sfx := range byteSuffixes {
		if strings.HasSuffix(upper, sfx.suffix) {
			mult = sfx.mult
			upper = strings.TrimSuffix(upper, sfx.suffix)
			break
		}
	}

	upper = strings.TrimSpace(upper)
	n, err := strconv.ParseInt(upper, 10, 64)
	if upper == "" || err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n > (1<<63-1)/mult {
		return 0, fmt.Errorf("size overflow %q", s)
	}
	return n * mult, nil
}
