package leaktrack

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestDisabledTrackerReportsNothing(t *testing.T) {
	tr := New(false)

	var x int
	p := unsafe.Pointer(&x)

	tr.Record(p, 8)
	require.Nil(t, tr.Report())
}

func TestRecordAndForget(t *testing.T) {
	tr := New(true)

	var a, b int
	pa := unsafe.Pointer(&a)
	pb := unsafe.Pointer(&b)

	tr.Record(pa, 8)
	tr.Record(pb, 8)
	require.Len(t, tr.Report(), 2)

	tr.Forget(pa)
	leaks := tr.Report()
	require.Len(t, leaks, 1)
	require.Equal(t, pb, leaks[0].Pointer)
}

func TestResetClearsAllTracked(t *testing.T) {
	tr := New(true)

	var a int
	tr.Record(unsafe.Pointer(&a), 8)
	require.Len(t, tr.Report(), 1)

	tr.Reset()
	require.Empty(t, tr.Report())
}

func TestFormatLeaksEmptyAndNonEmpty(t *testing.T) {
	require.Equal(t, "no leaks detected", FormatLeaks(nil))

	var a int
	msg := FormatLeaks([]LeakInfo{{Pointer: unsafe.Pointer(&a), Size: 16}})
	require.Contains(t, msg, "1 leaked")
}
