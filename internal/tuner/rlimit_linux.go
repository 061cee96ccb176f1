//go:build linux

package tuner

import "golang.org/x/sys/unix"

// RaiseFileLimit lifts RLIMIT_NOFILE for the current process so the client
// can hold DefaultFileLimit sockets open at once.
func RaiseFileLimit(n uint64) error {
	return unix.Setrlimit(unix.RLIMIT_NOFILE, &unix.Rlimit{Cur: n, Max: n})
}
