package envconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBool(t *testing.T) {
	cases := map[string]bool{
		"":        false,
		"0":       false,
		"false":   false,
		"1":       true,
		"true":    true,
		"on":      true,
		"enabled": true,
	}

	for value, want := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("VITPORT_STRICT", value)
			require.Equal(t, want, Strict())
		})
	}
}

func TestBoolReadAtCallTime(t *testing.T) {
	debug := Bool("VITPORT_DEBUG")

	t.Setenv("VITPORT_DEBUG", "")
	require.False(t, debug())

	t.Setenv("VITPORT_DEBUG", "1")
	require.True(t, debug())
}
