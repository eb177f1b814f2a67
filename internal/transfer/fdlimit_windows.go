//go:build windows
// +build windows

package transfer

// Windows has no RLIMIT_NOFILE equivalent; use a generous default.
func systemFDLimit() int {
	return 10000
}
