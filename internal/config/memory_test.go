package config

import "testing"

func TestParseMemory(t *testing.T) {
	const ram = 16 * 1024 * 1024 * 1024

	cases := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"1024", 1024, false},
		{"1K", 1024, false},
		{"1M", 1024 * 1024, false},
		{"1G", 1024 * 1024 * 1024, false},
		{"1T", 1024 * 1024 * 1024 * 1024, false},
		{"50%", ram / 2, false},
		{"150%", ram, false},
		{"1X", 0, true},
	}

	for _, tc := range cases {
		got, err := ParseMemory(tc.in, ram)

		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseMemory(%q) expected error, got nil", tc.in)
			}

			continue
		}

		if err != nil {
			t.Errorf("ParseMemory(%q) unexpected error: %v", tc.in, err)

			continue
		}

		if got != tc.want {
			t.Errorf("ParseMemory(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
