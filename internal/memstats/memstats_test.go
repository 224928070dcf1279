package memstats

import (
	"runtime"
	"testing"
)

func TestSnapshotRuntimeFields(t *testing.T) {
	c := New(func() int { return 2 })
	s := c.Snapshot()
	if s.HeapAllocBytes == 0 || s.RuntimeSysBytes == 0 {
		t.Fatalf("runtime fields missing: %+v", s)
	}
	if s.LoadedModels != 2 {
		t.Fatalf("loaded models = %d", s.LoadedModels)
	}
}

func TestSnapshotProcfs(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("procfs is linux-only")
	}
	c := New(nil)
	if c.fs == nil {
		t.Skip("procfs not mounted")
	}
	s := c.Snapshot()
	if s.ProcessResidentBytes == 0 || s.SystemTotalBytes == 0 {
		t.Fatalf("procfs fields missing: %+v", s)
	}
	if s.SystemAvailableBytes > s.SystemTotalBytes {
		t.Fatalf("available exceeds total: %+v", s)
	}
}

func TestIsLow(t *testing.T) {
	cases := []struct {
		avail, total uint64
		want         bool
	}{
		{0, 0, false},
		{50, 1000, true},
		{100, 1000, false},
		{900, 1000, false},
	}
	for _, c := range cases {
		if got := IsLow(c.avail, c.total); got != c.want {
			t.Fatalf("IsLow(%d,%d) = %v", c.avail, c.total, got)
		}
	}
}

func TestKB(t *testing.T) {
	v := uint64(3)
	if kb(&v) != 3072 || kb(nil) != 0 {
		t.Fatalf("kb conversion wrong")
	}
}
