//go:build !linux && !darwin && !freebsd

package cputime

import "time"

// Now is not implemented on this platform and always returns 0.
func Now() time.Duration {
	return 0
}
