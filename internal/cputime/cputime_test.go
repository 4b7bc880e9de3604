package cputime

import (
	"runtime"
	"testing"
)

func TestNowAdvances(t *testing.T) {
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd":
	default:
		t.Skipf("cpu time not reported on %s", runtime.GOOS)
	}

	start := Now()
	x := 0.0
	for i := 0; i < 50_000_000; i++ {
		x += float64(i) * 1e-9
	}
	if x < 0 {
		t.Fatal("unreachable")
	}
	if d := Since(start); d <= 0 {
		t.Errorf("Since = %v after a busy loop, expected > 0", d)
	}
	if Now() < start {
		t.Errorf("Now went backwards")
	}
}
