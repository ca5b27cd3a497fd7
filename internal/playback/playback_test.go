package playback

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	session uuid.UUID
	event   string
	payload interface{}
}

type fakeCommander struct {
	sent      []sent
	listeners int
}

func (f *fakeCommander) BroadcastToSession(id uuid.UUID, event string, payload interface{}) int {
	f.sent = append(f.sent, sent{id, event, payload})
	return f.listeners
}

func TestRemoteSendsSeekThenPlay(t *testing.T) {
	id := uuid.New()
	out := &fakeCommander{listeners: 1}
	r := NewRemote(id, out, nil)

	r.SeekTo(12.5)
	r.Play()

	require.Len(t, out.sent, 2)
	assert.Equal(t, id, out.sent[0].session)
	assert.Equal(t, EventSeek, out.sent[0].event)
	assert.Equal(t, SeekCommand{Seconds: 12.5}, out.sent[0].payload)
	assert.Equal(t, EventPlay, out.sent[1].event)
}

func TestRemoteDropsInvalidSeek(t *testing.T) {
	out := &fakeCommander{}
	r := NewRemote(uuid.New(), out, nil)
	r.SeekTo(-1)
	r.SeekTo(math.NaN())
	r.SeekTo(math.Inf(1))
	assert.Empty(t, out.sent)
}

func TestRemoteSwallowsMissingPlayer(t *testing.T) {
	r := NewRemote(uuid.New(), nil, nil)
	assert.NotPanics(t, func() {
		r.SeekTo(1)
		r.Play()
	})

	out := &fakeCommander{listeners: 0}
	r = NewRemote(uuid.New(), out, nil)
	assert.NotPanics(t, func() { r.SeekTo(3) })
	assert.Len(t, out.sent, 1)
}
