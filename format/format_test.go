package format

import "testing"

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{999, "999 B"},
		{1001, "1.0 KB"},
		{1500, "1.5 KB"},
		{1048576, "1.0 MB"},
		{110000000, "110.0 MB"},
		{2500000000, "2.5 GB"},
		{1100000000000, "1.1 TB"},
		{9000000000000000, "9000.0 TB"},
	}

	for _, tc := range tests {
		t.Run(tc.expected, func(t *testing.T) {
			if got := HumanBytes(tc.input); got != tc.expected {
				t.Errorf("HumanBytes(%d) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestHumanNumber(t *testing.T) {
	tests := []struct {
		input    uint64
		expected string
	}{
		{26, "26"},
		{1024, "1.02K"},
		{87654321, "87.7M"},
		{186000000, "186M"},
		{86800000000, "86.8B"},
		{1700000000000, "1.70T"},
	}

	for _, tc := range tests {
		t.Run(tc.expected, func(t *testing.T) {
			if got := HumanNumber(tc.input); got != tc.expected {
				t.Errorf("HumanNumber(%d) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}
