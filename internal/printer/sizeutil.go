package printer

import "fmt"

// FormatBytes renders a byte count for table output, e.g. "512 B", "1.5 KB",
// "10.0 GB". Negative counts render as zero.
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}

	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	value := float64(bytes) / unit
	suffix := "KB"
	for _, next := range []string{"MB", "GB", "TB"} {
		if value < unit {
			break
		}
		value /= unit
		suffix = next
	}
	return fmt.Sprintf("%.1f %s", value, suffix)
}
