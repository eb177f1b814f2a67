//go:build !windows
// +build !windows

package transfer

import "syscall"

func systemFDLimit() int {
	var rlim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlim); err != nil {
		return 10000
	}
	return min(int(rlim.Cur), 100000)
}
