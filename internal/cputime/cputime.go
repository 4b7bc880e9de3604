// Package cputime reports process CPU time for the command-line tools.
package cputime

import "time"

// Since returns the CPU time consumed since start, a value taken from Now.
func Since(start time.Duration) time.Duration {
	return Now() - start
}
