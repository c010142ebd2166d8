// Package envconfig resolves the environment variables the CLI honors.
// Values are read at call time so tests can override them with t.Setenv.
package envconfig

import (
	"os"
	"strconv"
)

// Bool returns a function reporting whether k is set to a truthy value.
// Any value other than an explicit false counts as true.
func Bool(k string) func() bool {
	return func() bool {
		if s := os.Getenv(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}

		return false
	}
}

var (
	// Debug enables additional diagnostic output (VITPORT_DEBUG=1).
	Debug = Bool("VITPORT_DEBUG")
	// Strict makes the converter fail fast on shape mismatches
	// (VITPORT_STRICT=1).
	Strict = Bool("VITPORT_STRICT")
)
