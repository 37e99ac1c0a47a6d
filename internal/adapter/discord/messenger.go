// Package discord is the chat side: it turns notification messages into
// embeds, sends and edits them through discordgo, and serves the /stream
// slash commands.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/pscheid92/streamnotify/internal/domain"
)

// Discord allows 50 requests per second per bot; stay well below it so
// command replies still get through during a burst of notifications.
const (
	outboundRate  = 20
	outboundBurst = 5
)

// Session is the part of *discordgo.Session the messenger uses.
type Session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// GuildState answers which guilds this gateway connection holds.
// *discordgo.State implements it.
type GuildState interface {
	Guild(guildID string) (*discordgo.Guild, error)
}

type Messenger struct {
	session Session
	guilds  GuildState
	limiter *rate.Limiter

	mu  sync.Mutex
	dms map[string]string
}

func NewMessenger(session Session, guilds GuildState) *Messenger {
	return &Messenger{
		session: session,
		guilds:  guilds,
		limiter: rate.NewLimiter(outboundRate, outboundBurst),
		dms:     make(map[string]string),
	}
}

func (m *Messenger) Send(ctx context.Context, channelID string, msg domain.Message) (string, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return "", err
	}
	sent, err := m.session.ChannelMessageSendComplex(channelID, buildSend(msg), discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(err)
	}
	return sent.ID, nil
}

func (m *Messenger) Edit(ctx context.Context, channelID, messageID string, msg domain.Message) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := m.session.ChannelMessageEditComplex(buildEdit(channelID, messageID, msg), discordgo.WithContext(ctx))
	return mapError(err)
}

func (m *Messenger) Delete(ctx context.Context, channelID, messageID string) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	return mapError(m.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

// DirectChannel opens (once) and caches the DM channel of a user.
func (m *Messenger) DirectChannel(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	id, ok := m.dms[userID]
	m.mu.Unlock()
	if ok {
		return id, nil
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return "", err
	}
	ch, err := m.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to open DM channel: %w", mapError(err))
	}

	m.mu.Lock()
	m.dms[userID] = ch.ID
	m.mu.Unlock()
	return ch.ID, nil
}

func (m *Messenger) HasGuild(guildID string) bool {
	if m.guilds == nil {
		return false
	}
	g, err := m.guilds.Guild(guildID)
	return err == nil && g != nil
}

// mapError turns "unknown message" and "unknown channel" into
// ErrMessageNotFound so the dispatcher can fall back to a fresh send.
// Other REST failures are delivery failures.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	restErr, ok := errors.AsType[*discordgo.RESTError](err)
	if !ok {
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
			return fmt.Errorf("%w: %w", domain.ErrMessageNotFound, err)
		}
	}
	if restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", domain.ErrMessageNotFound, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
}

var _ domain.Messenger = (*Messenger)(nil)
