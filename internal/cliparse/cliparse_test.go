package cliparse_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandia-minimega/overlay-lossroute/internal/cliparse"
)

func TestParseDV_Basic(t *testing.T) {
	got, err := cliparse.ParseDV([]string{"1111", "2222", "0.1", "3333", "0.5"})
	require.NoError(t, err)
	assert.Equal(t, uint16(1111), got.LocalPort)
	require.Len(t, got.Neighbors, 2)
	assert.Equal(t, uint16(2222), got.Neighbors[0].Port)
	assert.InDelta(t, 0.1, got.Neighbors[0].Loss, 1e-9)
	assert.False(t, got.Last)
}

func TestParseDV_LastFlag(t *testing.T) {
	got, err := cliparse.ParseDV([]string{"1111", "2222", "0.1", "last"})
	require.NoError(t, err)
	assert.True(t, got.Last)
}

func TestParseDV_InvalidPort(t *testing.T) {
	_, err := cliparse.ParseDV([]string{"80", "2222", "0.1"})
	assert.Error(t, err)
}

func TestParseDV_OddNeighborArgs(t *testing.T) {
	_, err := cliparse.ParseDV([]string{"1111", "2222"})
	assert.Error(t, err)
}

func TestParseCN_ReceiveAndSend(t *testing.T) {
	got, err := cliparse.ParseCN([]string{"1111", "receive", "2222", "0.1", "send", "3333", "4444"})
	require.NoError(t, err)
	assert.Equal(t, uint16(1111), got.LocalPort)
	require.Len(t, got.RecvNeighbors, 1)
	assert.Equal(t, uint16(2222), got.RecvNeighbors[0].Port)
	assert.Equal(t, []uint16{3333, 4444}, got.SendNeighbors)
}

func TestParseCN_MissingReceiveKeyword(t *testing.T) {
	_, err := cliparse.ParseCN([]string{"1111", "send", "2222"})
	assert.Error(t, err)
}

func TestParseCN_EmptyGroupsAllowed(t *testing.T) {
	got, err := cliparse.ParseCN([]string{"1111", "receive", "send", "2222", "3333"})
	require.NoError(t, err)
	assert.Empty(t, got.RecvNeighbors)
	assert.Equal(t, []uint16{2222, 3333}, got.SendNeighbors)
}

func TestParseGBN_Probabilistic(t *testing.T) {
	got, err := cliparse.ParseGBN([]string{"1111", "2222", "4", "-p", "0.2"})
	require.NoError(t, err)
	assert.Equal(t, "-p", got.Mode)
	assert.InDelta(t, 0.2, got.ModeValue, 1e-9)
	assert.Equal(t, 4, got.WindowSize)
}

func TestParseGBN_Deterministic(t *testing.T) {
	got, err := cliparse.ParseGBN([]string{"1111", "2222", "4", "-d", "3"})
	require.NoError(t, err)
	assert.Equal(t, "-d", got.Mode)
	assert.InDelta(t, 3, got.ModeValue, 1e-9)
}

func TestParseGBN_RequiresExactlyOneMode(t *testing.T) {
	_, err := cliparse.ParseGBN([]string{"1111", "2222", "4"})
	assert.Error(t, err)
}
