package brackets

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Dosada05/tournament-engine/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubNotifyReachesRoom(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run(ctx)

	inRoom := &Client{Hub: hub, Send: make(chan []byte, 4), Room: events.RoomForTournament(3)}
	elsewhere := &Client{Hub: hub, Send: make(chan []byte, 4), Room: events.RoomForTournament(4)}
	hub.Register <- inRoom
	hub.Register <- elsewhere
	require.Eventually(t, func() bool { return hub.RoomSize(inRoom.Room) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Notify(ctx, events.New(events.MatchReady, 3, nil).WithMatch(9)))

	select {
	case raw := <-inRoom.Send:
		var msg struct {
			Type    events.Type  `json:"type"`
			Payload events.Event `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, events.MatchReady, msg.Type)
		assert.Equal(t, 9, msg.Payload.MatchID)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
	assert.Empty(t, elsewhere.Send)

	hub.Unregister <- inRoom
	require.Eventually(t, func() bool { return hub.RoomSize(inRoom.Room) == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-inRoom.Send
	assert.False(t, open)
}
