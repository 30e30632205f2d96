package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseColorTag parses a display color into a packed 0xAARRGGBB tag.
//
// Accepted forms:
//   - decimal integers, signed or unsigned 32-bit ("2", "-16776961", "4278190335")
//   - "#rrggbb" (alpha forced to 0xff) and "#aarrggbb"
func ParseColorTag(s string) (int32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("color: empty value")
	}

	if strings.HasPrefix(s, "#") {
		hex := s[1:]
		if len(hex) != 6 && len(hex) != 8 {
			return 0, fmt.Errorf("color: %q: expected #rrggbb or #aarrggbb", s)
		}
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return 0, fmt.Errorf("color: %q: %w", s, err)
		}
		if len(hex) == 6 {
			v |= 0xff000000
		}
		return int32(uint32(v)), nil
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("color: %q: %w", s, err)
	}
	if v < math.MinInt32 || v > math.MaxUint32 {
		return 0, fmt.Errorf("color: %q: out of 32-bit range", s)
	}
	return int32(uint32(v)), nil
}

// FormatColorTag renders a tag as "#aarrggbb".
func FormatColorTag(tag int32) string {
	return fmt.Sprintf("#%08x", uint32(tag))
}
