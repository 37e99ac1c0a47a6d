// Package shard defines the messages exchanged between the lead shard
// (which owns the provider adapters and webhooks) and follower shards
// (which own Discord guild connections), plus guild-to-shard math.
package shard

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pscheid92/streamnotify/internal/domain"
)

type MessageType string

const (
	TypePush  MessageType = "streams:push"
	TypeFree  MessageType = "streams:free"
	TypeTrack MessageType = "streams:track"
)

var (
	ErrUnknownType    = errors.New("unknown shard message type")
	ErrInvalidMessage = fmt.Errorf("%w: invalid shard message", domain.ErrInvalidInput)
)

// Message is one of Push, Free or Track.
type Message interface {
	Type() MessageType
	validate() error
}

type Push struct {
	TargetGuildID string                  `json:"targetGuildId"`
	Subscription  domain.Subscription     `json:"subscription"`
	Status        domain.StreamStatus     `json:"status"`
	Fields        domain.RenderableFields `json:"fields"`
}

func (Push) Type() MessageType { return TypePush }

func (m Push) validate() error {
	switch {
	case m.TargetGuildID == "":
		return fmt.Errorf("%w: push without target guild", ErrInvalidMessage)
	case m.Subscription.Scope != domain.ScopeGuild || m.Subscription.SubscriberID != m.TargetGuildID:
		return fmt.Errorf("%w: push subscription does not belong to guild %s", ErrInvalidMessage, m.TargetGuildID)
	case !m.Status.State.Valid():
		return fmt.Errorf("%w: push with state %q", ErrInvalidMessage, m.Status.State)
	case m.Status.Platform == "" || m.Status.ExternalID == "":
		return fmt.Errorf("%w: push without streamer", ErrInvalidMessage)
	}
	return nil
}

// Delivery converts the message back into the dispatcher's unit of work.
func (m Push) Delivery() domain.Delivery {
	return domain.Delivery{
		TargetGuildID: m.TargetGuildID,
		Subscription:  m.Subscription,
		Status:        m.Status,
		Fields:        m.Fields,
	}
}

func PushFromDelivery(d domain.Delivery) Push {
	return Push{TargetGuildID: d.TargetGuildID, Subscription: d.Subscription, Status: d.Status, Fields: d.Fields}
}

type Free struct {
	Platform   string `json:"platform"`
	ExternalID string `json:"externalId"`
}

func (Free) Type() MessageType { return TypeFree }

func (m Free) validate() error {
	if m.Platform == "" || m.ExternalID == "" {
		return fmt.Errorf("%w: free without streamer", ErrInvalidMessage)
	}
	return nil
}

type Track struct {
	Platform    string `json:"platform"`
	ExternalID  string `json:"externalId"`
	DisplayName string `json:"displayName"`
}

func (Track) Type() MessageType { return TypeTrack }

func (m Track) validate() error {
	if m.Platform == "" || m.ExternalID == "" {
		return fmt.Errorf("%w: track without streamer", ErrInvalidMessage)
	}
	return nil
}

func (m Track) Ref() domain.StreamerRef {
	return domain.StreamerRef{Platform: m.Platform, ExternalID: m.ExternalID, DisplayName: m.DisplayName}
}

type envelope struct {
	Type          MessageType     `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// Encode validates msg and wraps it in the wire envelope.
func Encode(msg Message, correlationID string) ([]byte, error) {
	if err := msg.validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msg.Type(), err)
	}
	return json.Marshal(envelope{Type: msg.Type(), Payload: payload, CorrelationID: correlationID})
}

// Decode parses and validates an envelope. Unknown types are rejected.
func Decode(data []byte) (Message, string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	var msg Message
	var err error
	switch env.Type {
	case TypePush:
		msg, err = decodeAs[Push](env.Payload)
	case TypeFree:
		msg, err = decodeAs[Free](env.Payload)
	case TypeTrack:
		msg, err = decodeAs[Track](env.Payload)
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, "", err
	}

	if err := msg.validate(); err != nil {
		return nil, "", err
	}
	return msg, env.CorrelationID, nil
}

func decodeAs[T Message](raw json.RawMessage) (T, error) {
	var m T
	if len(raw) == 0 {
		return m, fmt.Errorf("%w: empty payload", ErrInvalidMessage)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return m, nil
}
