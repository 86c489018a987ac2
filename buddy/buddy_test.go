package buddy

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestCreateRejectsNonPowerOfTwoSize(t *testing.T) {
	_, err := Create(1000)
	require.Error(t, err)
}

func TestCreateRejectsSizeNotGreaterThanHeader(t *testing.T) {
	_, err := Create(32)
	require.Error(t, err)
}

func TestAllocateAndFreeWholeRegion(t *testing.T) {
	a, err := Create(1024)
	require.NoError(t, err)
	defer a.Destroy()

	p := a.Allocate(1024 - headerSize)
	require.NotNil(t, p)
	require.EqualValues(t, 1024, a.UsedMemory())

	a.Free(p)
	require.Zero(t, a.UsedMemory())

	p2 := a.Allocate(1024 - headerSize)
	require.NotNil(t, p2)
}

func TestAllocateSplitsDownToClass(t *testing.T) {
	a, err := Create(1024)
	require.NoError(t, err)
	defer a.Destroy()

	p1 := a.Allocate(32)
	require.NotNil(t, p1)

	p2 := a.Allocate(32)
	require.NotNil(t, p2)
	require.NotEqual(t, p1, p2)
}

func TestFreeMergesBuddiesBackToWholeRegion(t *testing.T) {
	a, err := Create(256)
	require.NoError(t, err)
	defer a.Destroy()

	p1 := a.Allocate(16)
	p2 := a.Allocate(16)
	require.NotNil(t, p1)
	require.NotNil(t, p2)

	a.Free(p1)
	a.Free(p2)

	require.Zero(t, a.UsedMemory())

	big := a.Allocate(256 - headerSize)
	require.NotNil(t, big)
}

func TestAllocateFailsWhenNoClassFits(t *testing.T) {
	a, err := Create(128)
	require.NoError(t, err)
	defer a.Destroy()

	require.NotNil(t, a.Allocate(64))
	require.Nil(t, a.Allocate(64))
}

func TestFreeRejectsInvalidPointer(t *testing.T) {
	a, err := Create(256)
	require.NoError(t, err)
	defer a.Destroy()

	require.NotPanics(t, func() { a.Free(nil) })

	p := a.Allocate(32)
	require.NotNil(t, p)

	a.Free(p)
	require.NotPanics(t, func() { a.Free(p) })
}

func TestResetRestoresWholeRegionBlock(t *testing.T) {
	a, err := Create(512)
	require.NoError(t, err)
	defer a.Destroy()

	require.NotNil(t, a.Allocate(64))
	a.Reset()

	require.Zero(t, a.UsedMemory())
	require.NotNil(t, a.Allocate(512-headerSize))
}

func TestLeakReportTracksOutstandingBlocks(t *testing.T) {
	a, err := Create(1024, WithLeakCheck(true))
	require.NoError(t, err)
	defer a.Destroy()

	p1 := a.Allocate(32)
	p2 := a.Allocate(32)
	require.NotNil(t, p1)
	require.NotNil(t, p2)

	require.Len(t, a.LeakReport(), 2)

	a.Free(p1)
	require.Len(t, a.LeakReport(), 1)

	a.Free(p2)
	require.Empty(t, a.LeakReport())
}

func TestLeakReportDisabledByDefault(t *testing.T) {
	a, err := Create(1024)
	require.NoError(t, err)
	defer a.Destroy()

	require.NotNil(t, a.Allocate(32))
	require.Nil(t, a.LeakReport())
}

func TestManySmallAllocationsAndFreesDoNotCorruptFreeLists(t *testing.T) {
	a, err := Create(1024)
	require.NoError(t, err)
	defer a.Destroy()

	var ptrs []unsafe.Pointer
	for i := 0; i < 8; i++ {
		p := a.Allocate(16)
		require.NotNil(t, p)
		ptrs = append(ptrs, p)
	}

	for _, p := range ptrs {
		a.Free(p)
	}

	require.Zero(t, a.UsedMemory())
	require.NotNil(t, a.Allocate(1024-headerSize))
}
