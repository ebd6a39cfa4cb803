package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseMemory parses a decimal integer with an optional suffix from
// {K, M, G, T, %} (powers of 1024; % is percent of availableRAM, capped
// at 100) into a byte count. Grounded on the original's
// config_get_memory.
func ParseMemory(s string, availableRAM uint64) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty memory value")
	}

	if strings.HasSuffix(s, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid percentage %q: %w", s, err)
		}

		if pct > 100 {
			pct = 100
		}

		if pct < 0 {
			pct = 0
		}

		return uint64(pct / 100 * float64(availableRAM)), nil
	}

	mult := uint64(1)
	numeric := s

	if n := len(s); n > 0 {
		switch s[n-1] {
		case 'K', 'k':
			mult = 1024
			numeric = s[:n-1]
		case 'M', 'm':
			mult = 1024 * 1024
			numeric = s[:n-1]
		case 'G', 'g':
			mult = 1024 * 1024 * 1024
			numeric = s[:n-1]
		case 'T', 't':
			mult = 1024 * 1024 * 1024 * 1024
			numeric = s[:n-1]
		}
	}

	value, err := strconv.ParseUint(strings.TrimSpace(numeric), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory value %q: %w", s, err)
	}

	return value * mult, nil
}
