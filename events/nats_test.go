package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJetStream struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakeJetStream) Publish(subj string, data []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return &nats.PubAck{Stream: "TOURNAMENT_EVENTS", Sequence: uint64(len(f.subjects))}, nil
}

func TestNATSPublisherNotify(t *testing.T) {
	js := &fakeJetStream{}
	p := &NATSPublisher{js: js, prefix: "tournament", logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	e := New(MatchCompleted, 7, map[string]int{"winner_id": 3}).WithMatch(42)
	require.NoError(t, p.Notify(context.Background(), e))

	require.Len(t, js.subjects, 1)
	assert.Equal(t, "tournament.7.match.completed", js.subjects[0])

	var decoded Event
	require.NoError(t, json.Unmarshal(js.payloads[0], &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.Equal(t, 42, decoded.MatchID)
	assert.Equal(t, MatchCompleted, decoded.Type)
}

func TestNATSPublisherNotifyError(t *testing.T) {
	js := &fakeJetStream{err: errors.New("no responders")}
	p := &NATSPublisher{js: js, prefix: "tournament", logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	err := p.Notify(context.Background(), New(ScoreUpdated, 1, nil))
	assert.ErrorContains(t, err, "no responders")
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "TOURNAMENT_EVENTS", streamName("tournament"))
	assert.Equal(t, "CLUB_A_EVENTS", streamName("club.a"))
}

func TestEventRoom(t *testing.T) {
	assert.Equal(t, "tournament_12", New(MatchReady, 12, nil).Room())
}
