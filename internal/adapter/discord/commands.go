package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/pscheid92/streamnotify/internal/domain"
	"github.com/pscheid92/streamnotify/internal/platform/correlation"
)

const commandTimeout = 10 * time.Second

// CommandService is what the /stream command drives. app.Service
// implements it.
type CommandService interface {
	Follow(ctx context.Context, platform, query string, scope domain.SubscriberScope, subscriberID string) (domain.Subscription, error)
	Unfollow(ctx context.Context, platform, externalID string, scope domain.SubscriberScope, subscriberID string) error
	List(ctx context.Context, scope domain.SubscriberScope, subscriberID string) ([]domain.Subscription, error)
	SetChannel(ctx context.Context, scope domain.SubscriberScope, subscriberID, channelID string) (domain.SubscriberSettings, error)
	SetMention(ctx context.Context, scope domain.SubscriberScope, subscriberID, platform, externalID string, enabled bool) (domain.SubscriberSettings, error)
}

type Commands struct {
	svc       CommandService
	platforms []string
}

func NewCommands(svc CommandService, platforms []string) *Commands {
	return &Commands{svc: svc, platforms: platforms}
}

// invocation is one /stream subcommand, decoupled from the interaction.
type invocation struct {
	guildID    string
	userID     string
	subcommand string
	options    map[string]any
}

func (inv invocation) subscriber() (domain.SubscriberScope, string) {
	if inv.guildID != "" {
		return domain.ScopeGuild, inv.guildID
	}
	return domain.ScopeUser, inv.userID
}

func (inv invocation) str(name string) string {
	s, _ := inv.options[name].(string)
	return strings.TrimSpace(s)
}

func (c *Commands) Definitions() []*discordgo.ApplicationCommand {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, len(c.platforms))
	for i, p := range c.platforms {
		choices[i] = &discordgo.ApplicationCommandOptionChoice{Name: p, Value: p}
	}
	platform := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "platform",
		Description: "Streaming platform",
		Required:    true,
		Choices:     choices,
	}
	streamer := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "streamer",
		Description: "Channel name or id",
		Required:    true,
	}

	manageGuild := int64(discordgo.PermissionManageGuild)
	dms := true

	return []*discordgo.ApplicationCommand{{
		Name:                     "stream",
		Description:              "Live stream notifications",
		DefaultMemberPermissions: &manageGuild,
		DMPermission:             &dms,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "follow",
				Description: "Get notified when a streamer goes live",
				Options:     []*discordgo.ApplicationCommandOption{platform, streamer},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "unfollow",
				Description: "Stop notifications for a streamer",
				Options:     []*discordgo.ApplicationCommandOption{platform, streamer},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "list",
				Description: "List followed streamers",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "channel",
				Description: "Set the channel for notifications",
				Options: []*discordgo.ApplicationCommandOption{{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "channel",
					Description:  "Notification channel",
					Required:     true,
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews},
				}},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "mention",
				Description: "Toggle @everyone for a streamer",
				Options: []*discordgo.ApplicationCommandOption{platform, streamer, {
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "enabled",
					Description: "Mention @everyone when the streamer goes live",
					Required:    true,
				}},
			},
		},
	}}
}

// HandleInteraction is registered on the discordgo session.
func (c *Commands) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if data.Name != "stream" || len(data.Options) == 0 {
		return
	}

	inv := invocation{guildID: i.GuildID, subcommand: data.Options[0].Name, options: map[string]any{}}
	switch {
	case i.Member != nil && i.Member.User != nil:
		inv.userID = i.Member.User.ID
	case i.User != nil:
		inv.userID = i.User.ID
	}
	for _, opt := range data.Options[0].Options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionBoolean:
			inv.options[opt.Name] = opt.BoolValue()
		case discordgo.ApplicationCommandOptionChannel:
			// raw id; the resolved channel is not needed
			inv.options[opt.Name] = fmt.Sprint(opt.Value)
		default:
			inv.options[opt.Name] = opt.StringValue()
		}
	}

	// lookups can exceed the 3s interaction deadline
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		slog.Warn("Failed to acknowledge interaction", "subcommand", inv.subcommand, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(correlation.Start(context.Background()), commandTimeout)
	defer cancel()

	reply := c.execute(ctx, inv)
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &reply}); err != nil {
		slog.WarnContext(ctx, "Failed to send command reply", "subcommand", inv.subcommand, "error", err)
	}
}

func (c *Commands) execute(ctx context.Context, inv invocation) string {
	scope, subscriberID := inv.subscriber()
	slog.DebugContext(ctx, "Command received", "subcommand", inv.subcommand, "subscriber_scope", scope, "subscriber_id", subscriberID)

	switch inv.subcommand {
	case "follow":
		sub, err := c.svc.Follow(ctx, inv.str("platform"), inv.str("streamer"), scope, subscriberID)
		if err != nil {
			return c.failure(ctx, inv, err)
		}
		reply := fmt.Sprintf("Following **%s** on %s.", sub.DisplayName, sub.Platform)
		if scope == domain.ScopeGuild {
			reply += " Use `/stream channel` if no notification channel is set yet."
		}
		return reply

	case "unfollow":
		sub, err := c.find(ctx, inv, scope, subscriberID)
		if err != nil {
			return c.failure(ctx, inv, err)
		}
		if err := c.svc.Unfollow(ctx, sub.Platform, sub.ExternalID, scope, subscriberID); err != nil {
			return c.failure(ctx, inv, err)
		}
		return fmt.Sprintf("Unfollowed **%s** on %s.", sub.DisplayName, sub.Platform)

	case "list":
		subs, err := c.svc.List(ctx, scope, subscriberID)
		if err != nil {
			return c.failure(ctx, inv, err)
		}
		if len(subs) == 0 {
			return "Not following anyone yet. Use `/stream follow` to add a streamer."
		}
		var sb strings.Builder
		sb.WriteString("**Followed streamers:**\n")
		for _, s := range subs {
			fmt.Fprintf(&sb, "- %s (%s, `%s`)\n", s.DisplayName, s.Platform, s.ExternalID)
		}
		return sb.String()

	case "channel":
		if scope != domain.ScopeGuild {
			return "Direct notifications always arrive here; there is no channel to set."
		}
		channelID := inv.str("channel")
		if _, err := c.svc.SetChannel(ctx, scope, subscriberID, channelID); err != nil {
			return c.failure(ctx, inv, err)
		}
		return fmt.Sprintf("Notifications will be sent to <#%s>.", channelID)

	case "mention":
		sub, err := c.find(ctx, inv, scope, subscriberID)
		if err != nil {
			return c.failure(ctx, inv, err)
		}
		enabled, _ := inv.options["enabled"].(bool)
		if _, err := c.svc.SetMention(ctx, scope, subscriberID, sub.Platform, sub.ExternalID, enabled); err != nil {
			return c.failure(ctx, inv, err)
		}
		if enabled {
			return fmt.Sprintf("@everyone will be mentioned when **%s** goes live.", sub.DisplayName)
		}
		return fmt.Sprintf("No more @everyone for **%s**.", sub.DisplayName)

	default:
		return "Unknown command."
	}
}

// find picks the subscriber's subscription matching the streamer option by
// display name or external id.
func (c *Commands) find(ctx context.Context, inv invocation, scope domain.SubscriberScope, subscriberID string) (domain.Subscription, error) {
	platform, query := inv.str("platform"), inv.str("streamer")
	subs, err := c.svc.List(ctx, scope, subscriberID)
	if err != nil {
		return domain.Subscription{}, err
	}
	for _, s := range subs {
		if s.Platform != platform {
			continue
		}
		if strings.EqualFold(s.DisplayName, query) || s.ExternalID == query {
			return s, nil
		}
	}
	return domain.Subscription{}, domain.ErrSubscriptionNotFound
}

func (c *Commands) failure(ctx context.Context, inv invocation, err error) string {
	streamer, platform := inv.str("streamer"), inv.str("platform")
	switch {
	case errors.Is(err, domain.ErrAlreadySubscribed):
		return fmt.Sprintf("Already following `%s` on %s.", streamer, platform)
	case errors.Is(err, domain.ErrSubscriptionNotFound):
		return fmt.Sprintf("Not following `%s` on %s.", streamer, platform)
	case errors.Is(err, domain.ErrStreamerNotFound):
		return fmt.Sprintf("Could not find `%s` on %s.", streamer, platform)
	case errors.Is(err, domain.ErrInvalidName):
		return fmt.Sprintf("`%s` is not a valid %s name.", streamer, platform)
	case errors.Is(err, domain.ErrUnknownPlatform):
		return fmt.Sprintf("%s is not supported here.", platform)
	case errors.Is(err, domain.ErrInvalidInput):
		return "That does not work here."
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return fmt.Sprintf("%s is not answering right now. Please try again later.", platform)
	default:
		slog.ErrorContext(ctx, "Command failed", "subcommand", inv.subcommand, "error", err)
		return "Something went wrong. Please try again."
	}
}
