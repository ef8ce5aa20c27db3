package coredb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPagePinUnpinCount(t *testing.T) {
	p := newPage(1)
	require.Equal(t, 0, p.PinCount())

	p.pin()
	p.pin()
	require.Equal(t, 2, p.PinCount())

	require.False(t, p.unpin())
	require.Equal(t, 1, p.PinCount())
	require.True(t, p.unpin(), "unpinning the last reference must report true")
	require.Equal(t, 0, p.PinCount())
}

func TestPageUnpinBelowZeroIsNoop(t *testing.T) {
	p := newPage(1)
	require.False(t, p.unpin())
	require.Equal(t, 0, p.PinCount())
}

func TestPageResetClearsState(t *testing.T) {
	p := newPage(1)
	p.pin()
	p.Data()[0] = 0xFF
	p.MarkDirty()

	p.reset(2)
	require.Equal(t, PageID(2), p.ID())
	require.Equal(t, 0, p.PinCount())
	require.False(t, p.IsDirty())
	require.Equal(t, byte(0), p.Data()[0])
}

func TestPageIDStringInvalid(t *testing.T) {
	require.Equal(t, "PageID(invalid)", InvalidPageID.String())
	require.Contains(t, PageID(7).String(), "7")
}
