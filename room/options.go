package room

import (
	"context"
	"log"
	"time"

	"collabtext/roomkit/effects"
)

// Options configures one Room. RoomID, Fetch and SocketFactory are
// required; everything else has a sensible default.
type Options struct {
	RoomID          string
	InitialPresence Presence
	InitialStorage  map[string]interface{}

	Fetch         effects.TokenFetcher
	SocketFactory effects.SocketFactory
	BuildURL      func(roomID, token string) string

	Effects       effects.Effects
	Logger        *log.Logger
	ThrottleDelay time.Duration
}

func (o *Options) fillDefaults() {
	if o.Effects == nil {
		o.Effects = effects.New()
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.ThrottleDelay <= 0 {
		o.ThrottleDelay = 100 * time.Millisecond
	}
	if o.BuildURL == nil {
		o.BuildURL = func(roomID, token string) string {
			return "wss://roomkit.local/rooms/" + roomID + "/socket?token=" + token
		}
	}
	if o.InitialPresence == nil {
		o.InitialPresence = Presence{}
	}
}

// authFetcher closes the configured Fetch over ctx and this room's id, the
// shape effects.Authenticate expects.
func (o *Options) authFetcher() effects.TokenFetcher {
	return func(ctx context.Context, roomID string) (string, error) {
		return o.Fetch(ctx, roomID)
	}
}
