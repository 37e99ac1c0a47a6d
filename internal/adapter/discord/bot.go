package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

type BotConfig struct {
	Token      string
	ShardID    int
	ShardCount int
	Commands   *Commands // nil leaves slash commands unregistered
}

// Bot owns the gateway connection of one shard.
type Bot struct {
	session    *discordgo.Session
	commands   *Commands
	registered []*discordgo.ApplicationCommand
	messenger  *Messenger
}

func NewBot(cfg BotConfig) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsDirectMessages
	session.ShardID = cfg.ShardID
	session.ShardCount = cfg.ShardCount
	session.StateEnabled = true

	b := &Bot{
		session:   session,
		commands:  cfg.Commands,
		messenger: NewMessenger(session, session.State),
	}

	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("Discord ready", "user", r.User.Username, "guilds", len(r.Guilds), "shard_id", cfg.ShardID)
	})
	if b.commands != nil {
		session.AddHandler(b.commands.HandleInteraction)
	}

	return b, nil
}

func (b *Bot) Messenger() *Messenger {
	return b.messenger
}

// Open connects to the gateway. Commands are global, so only the shard that
// registers them (the lead) passes register=true.
func (b *Bot) Open(register bool) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	if register && b.commands != nil {
		return b.registerCommands()
	}
	return nil
}

func (b *Bot) registerCommands() error {
	registered, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, "", b.commands.Definitions())
	if err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}
	b.registered = registered
	slog.Info("Slash commands registered", "count", len(registered))
	return nil
}

var ErrGatewayNotReady = errors.New("discord gateway not ready")

// Ready is a readiness check: it fails until the gateway has delivered READY
// and again while the session is reconnecting.
func (b *Bot) Ready(context.Context) error {
	return gatewayReady(b.session)
}

func gatewayReady(s *discordgo.Session) error {
	s.RLock()
	defer s.RUnlock()
	if !s.DataReady {
		return ErrGatewayNotReady
	}
	return nil
}

func (b *Bot) Close() error {
	return b.session.Close()
}
