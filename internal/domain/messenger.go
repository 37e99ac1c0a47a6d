package domain

import "context"

// Message is the Discord-agnostic notification body.
type Message struct {
	State           StreamState
	Fields          RenderableFields
	MentionEveryone bool
}

// Messenger is the outbound chat collaborator. Edit and Delete report
// ErrMessageNotFound when the message or its channel no longer exists.
type Messenger interface {
	Send(ctx context.Context, channelID string, msg Message) (messageID string, err error)
	Edit(ctx context.Context, channelID, messageID string, msg Message) error
	Delete(ctx context.Context, channelID, messageID string) error

	// DirectChannel returns the DM channel for a user subscriber.
	DirectChannel(ctx context.Context, userID string) (string, error)

	// HasGuild reports whether this process holds the gateway connection for the guild.
	HasGuild(guildID string) bool
}
