package coredb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDiskManager(t *testing.T) *DiskManager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	dm, err := OpenDiskManager(path)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	return dm
}

func TestDiskManagerAllocateAndReadWrite(t *testing.T) {
	dm := newTestDiskManager(t)
	require.Equal(t, int64(0), dm.NumPages())

	id, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, PageID(0), id)
	require.Equal(t, int64(1), dm.NumPages())

	buf := make([]byte, PageSize)
	for i := range buf {
		buf[i] = byte(i % 256)
	}
	require.NoError(t, dm.WritePage(id, buf))

	readBack := make([]byte, PageSize)
	require.NoError(t, dm.ReadPage(id, readBack))
	require.Equal(t, buf, readBack)
}

func TestDiskManagerAllocatePageIDsAreSequential(t *testing.T) {
	dm := newTestDiskManager(t)
	first, err := dm.AllocatePage()
	require.NoError(t, err)
	second, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, first+1, second)
}

func TestDiskManagerReadPageOutOfRange(t *testing.T) {
	dm := newTestDiskManager(t)
	buf := make([]byte, PageSize)
	err := dm.ReadPage(PageID(5), buf)
	require.Error(t, err)
}

func TestDiskManagerReopenPreservesPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	dm, err := OpenDiskManager(path)
	require.NoError(t, err)
	id, err := dm.AllocatePage()
	require.NoError(t, err)
	buf := make([]byte, PageSize)
	buf[0] = 0xAB
	require.NoError(t, dm.WritePage(id, buf))
	require.NoError(t, dm.Close())

	reopened, err := OpenDiskManager(path)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, int64(1), reopened.NumPages())

	readBack := make([]byte, PageSize)
	require.NoError(t, reopened.ReadPage(id, readBack))
	require.Equal(t, byte(0xAB), readBack[0])
}
