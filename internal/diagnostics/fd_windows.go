//go:build windows

package diagnostics

// CountFDs reports no descriptor data on Windows.
func CountFDs() (open, limit int) {
	return 0, 0
}
