package config

import (
	"fmt"
	"strconv"
	"strings"
)

// sizeUnits maps recognized suffixes to byte multipliers. Binary units
// (KiB/MiB/GiB) are preferred; plain K/M/G are accepted as aliases.
var sizeUnits = map[string]int64{
	"":    1,
	"b":   1,
	"k":   1024,
	"kib": 1024,
	"m":   1024 * 1024,
	"mib": 1024 * 1024,
	"g":   1024 * 1024 * 1024,
	"gib": 1024 * 1024 * 1024,
}

// ParseSize parses a human-readable byte size such as "4MiB" or "10485760"
// into a byte count.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
		i++
	}

	numPart := s[:i]
	unitPart := strings.ToLower(strings.TrimSpace(s[i:]))

	mult, ok := sizeUnits[unitPart]
	if !ok {
		return 0, fmt.Errorf("unknown size unit %q in %q", unitPart, s)
	}

	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric size %q: %w", numPart, err)
	}

	return n * mult, nil
}
