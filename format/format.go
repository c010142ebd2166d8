// Package format renders the sizes the CLI reports: checkpoint file sizes
// and model parameter counts.
package format

import (
	"fmt"
	"strconv"
)

const unit = 1000

// HumanBytes formats a file size with decimal units and one decimal place,
// matching how checkpoint sizes are quoted on model cards.
func HumanBytes(n int64) string {
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	v, suffix := float64(n), ""
	for _, s := range []string{"KB", "MB", "GB", "TB"} {
		v /= unit
		suffix = s
		if v < unit {
			break
		}
	}

	return fmt.Sprintf("%.1f %s", v, suffix)
}

// HumanNumber abbreviates a parameter count to three significant digits
// with a K/M/B/T suffix.
func HumanNumber(n uint64) string {
	if n < unit {
		return strconv.FormatUint(n, 10)
	}

	v, suffix := float64(n), ""
	for _, s := range []string{"K", "M", "B", "T"} {
		v /= unit
		suffix = s
		if v < unit {
			break
		}
	}

	switch {
	case v >= 100:
		return fmt.Sprintf("%.0f%s", v, suffix)
	case v >= 10:
		return fmt.Sprintf("%.1f%s", v, suffix)
	default:
		return fmt.Sprintf("%.2f%s", v, suffix)
	}
}
