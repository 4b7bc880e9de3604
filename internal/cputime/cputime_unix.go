//go:build linux || darwin || freebsd

package cputime

import (
	"time"

	"golang.org/x/sys/unix"
)

// Now returns user plus system CPU time used by this process so far, summed
// over all threads.
func Now() time.Duration {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	return timeval(ru.Utime) + timeval(ru.Stime)
}

func timeval(tv unix.Timeval) time.Duration {
	return time.Duration(tv.Nano())
}
