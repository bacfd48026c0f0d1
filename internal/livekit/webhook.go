package livekit

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/livekit/protocol/auth"
	lkproto "github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/webhook"
	"google.golang.org/protobuf/encoding/protojson"
)

// Webhook event names handled by the meetings backend.
const (
	EventParticipantLeft = "participant_left"
	EventRoomFinished    = "room_finished"
)

var (
	// ErrUnauthorized wraps every authentication failure of a webhook request.
	ErrUnauthorized = errors.New("livekit: webhook not authenticated")
	// ErrInvalidEvent is returned when an authenticated body is not a webhook event.
	ErrInvalidEvent = errors.New("livekit: invalid webhook event")
)

// Verifier authenticates webhook requests against the API key pair the server signs with.
type Verifier struct {
	keys auth.KeyProvider
}

// NewVerifier creates a webhook verifier for one API key pair.
func NewVerifier(apiKey, apiSecret string) *Verifier {
	return &Verifier{keys: auth.NewSimpleKeyProvider(apiKey, apiSecret)}
}

// Verify reads r's body, checks its signed checksum and decodes the event. Fields added by
// newer servers are ignored.
func (v *Verifier) Verify(r *http.Request) (*lkproto.WebhookEvent, error) {
	body, err := webhook.Receive(r, v.keys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	ev := &lkproto.WebhookEvent{}
	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(body, ev); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return ev, nil
}
