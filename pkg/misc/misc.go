package misc

import (
	"math"
	"strconv"
	"strings"
)

var sizeSuffixes = [...]string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// FormatFileSize returns a human-readable size with at most 2 decimal places.
func FormatFileSize(bytes int64) string {
	size := float64(bytes)

	var suffixIndex int
	for size/1024 > 1 && suffixIndex < len(sizeSuffixes)-1 {
		size /= 1024
		suffixIndex++
	}

	size = math.Round(size*100) / 100
	return strconv.FormatFloat(size, 'f', -1, 64) + " " + sizeSuffixes[suffixIndex]
}

func EnsurePrefix(s, prefix string) string {
	if strings.HasPrefix(s, prefix) {
		return s
	}
	return prefix + s
}
