// Package livekit issues access tokens for, and verifies webhooks from, the LiveKit media server.
package livekit

import (
	"errors"
	"time"

	"github.com/livekit/protocol/auth"
)

const defaultTokenTTL = 6 * time.Hour

var errTokenParams = errors.New("livekit: api key, secret, room and identity are required")

// JoinTokenParams describe who joins which room.
type JoinTokenParams struct {
	Room       string
	Identity   string
	Name       string
	CanPublish bool
	TTL        time.Duration
}

// GenerateJoinToken signs an access token letting identity join room. Subscribing is always
// allowed; publishing media and data follows CanPublish.
func GenerateJoinToken(apiKey, apiSecret string, p JoinTokenParams) (string, error) {
	if apiKey == "" || apiSecret == "" || p.Room == "" || p.Identity == "" {
		return "", errTokenParams
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	publish, subscribe := p.CanPublish, true
	grant := &auth.VideoGrant{
		RoomJoin:       true,
		Room:           p.Room,
		CanPublish:     &publish,
		CanPublishData: &publish,
		CanSubscribe:   &subscribe,
	}
	at := auth.NewAccessToken(apiKey, apiSecret).
		AddGrant(grant).
		SetIdentity(p.Identity).
		SetName(p.Name).
		SetValidFor(ttl)
	return at.ToJWT()
}
