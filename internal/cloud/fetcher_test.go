package cloud

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRooms struct {
	body  string
	err   error
	calls int
}

func (s *staticRooms) RoomsByUser(ctx context.Context) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []byte(s.body), nil
}

func newTestFetcher(body string, err error) (*Fetcher, *bytes.Buffer) {
	var buf bytes.Buffer
	f := NewFetcher(&staticRooms{body: body, err: err}).WithLogger(zerolog.New(&buf))
	return f, &buf
}

func countLevel(buf *bytes.Buffer, level string) int {
	n := 0
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.Contains(line, `"level":"`+level+`"`) {
			n++
		}
	}
	return n
}

func TestFetchAllDevices_FlattensRooms(t *testing.T) {
	body := `[
		{"name": "Kitchen", "devices": [
			{"bulb_ID": "b1", "groupId": "g1", "nickname": "Sink", "modeId": "calm5", "brightness": 40, "isAvailable": true},
			{"bulb_ID": "b2", "groupId": "g1", "nickname": "Island"}
		]},
		{"name": "Hall", "devices": [
			{"bulb_ID": "b3", "groupId": "g2", "generation": 2, "red": 10}
		]}
	]`
	f, _ := newTestFetcher(body, nil)

	devices, ok := f.FetchAllDevices(context.Background())
	require.True(t, ok)
	require.Len(t, devices, 3)

	assert.Equal(t, "b1", devices[0].BulbID)
	assert.Equal(t, "calm5", devices[0].ModeID)
	assert.Equal(t, 40, devices[0].Brightness)
	assert.True(t, devices[0].IsAvailable)

	assert.Equal(t, "b2", devices[1].BulbID)
	assert.Equal(t, ModeOff, devices[1].ModeID)
	assert.False(t, devices[1].IsAvailable)

	assert.Equal(t, "g2", devices[2].GroupID)
	assert.Equal(t, "2", devices[2].Generation)
	assert.Equal(t, 10, devices[2].Red)
}

func TestFetchAllDevices_ObjectInsteadOfArray(t *testing.T) {
	f, buf := newTestFetcher(`{"error": "unauthorized"}`, nil)

	devices, ok := f.FetchAllDevices(context.Background())
	assert.False(t, ok)
	assert.NotNil(t, devices)
	assert.Empty(t, devices)
	assert.Equal(t, 1, countLevel(buf, "error"))
}

func TestFetchAllDevices_EmptyArray(t *testing.T) {
	f, buf := newTestFetcher(`[]`, nil)

	devices, ok := f.FetchAllDevices(context.Background())
	assert.True(t, ok)
	assert.Empty(t, devices)
	assert.Equal(t, 0, countLevel(buf, "error"))
}

func TestFetchAllDevices_RoomWithoutDevices(t *testing.T) {
	body := `[
		{"name": "Empty"},
		{"name": "Odd", "devices": "none"},
		{"name": "Full", "devices": [{"bulb_ID": "b1"}]}
	]`
	f, buf := newTestFetcher(body, nil)

	devices, ok := f.FetchAllDevices(context.Background())
	assert.True(t, ok)
	require.Len(t, devices, 1)
	assert.Equal(t, "b1", devices[0].BulbID)
	assert.Equal(t, 2, countLevel(buf, "warn"))
	assert.Equal(t, 0, countLevel(buf, "error"))
}

func TestFetchAllDevices_MissingBulbIDIsKeptAndWarned(t *testing.T) {
	f, buf := newTestFetcher(`[{"devices": [{"nickname": "Ghost"}]}]`, nil)

	devices, ok := f.FetchAllDevices(context.Background())
	assert.True(t, ok)
	require.Len(t, devices, 1)
	assert.Equal(t, "", devices[0].BulbID)
	assert.Equal(t, "Ghost", devices[0].Nickname)
	assert.Equal(t, 1, countLevel(buf, "warn"))
}

func TestFetchAllDevices_TransportError(t *testing.T) {
	f, buf := newTestFetcher("", errors.New("connection refused"))

	devices, ok := f.FetchAllDevices(context.Background())
	assert.False(t, ok)
	assert.Empty(t, devices)
	assert.Equal(t, 1, countLevel(buf, "error"))
}

func TestFetchAllDevices_InvalidJSON(t *testing.T) {
	f, _ := newTestFetcher(`<html>bad gateway</html>`, nil)

	devices, ok := f.FetchAllDevices(context.Background())
	assert.False(t, ok)
	assert.Empty(t, devices)
}
