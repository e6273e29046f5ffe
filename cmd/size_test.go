package cmd

import "testing"

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"512", 512},
		{"512B", 512},
		{"64KB", 64 * 1024},
		{"64kb", 64 * 1024},
		{"1.5MB", 1536 * 1024},
		{" 1GB ", 1024 * 1024 * 1024},
	}
	for _, tt := range tests {
		got, err := parseSize(tt.in)
		if err != nil {
			t.Errorf("parseSize(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "KB", "10TB", "-1", "ten"} {
		if _, err := parseSize(bad); err == nil {
			t.Errorf("parseSize(%q) succeeded", bad)
		}
	}
}
