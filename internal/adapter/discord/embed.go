package discord

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/pscheid92/streamnotify/internal/domain"
)

const (
	colorOffline = 0x747f8d
	colorDefault = 0x5865f2
)

func buildEmbed(msg domain.Message) *discordgo.MessageEmbed {
	f := msg.Fields
	embed := &discordgo.MessageEmbed{
		URL:   f.URL,
		Title: f.Title,
		Color: f.Color,
		Author: &discordgo.MessageEmbedAuthor{
			Name:    f.DisplayName,
			URL:     f.URL,
			IconURL: f.AvatarURL,
		},
	}
	if embed.Title == "" {
		embed.Title = f.DisplayName
	}
	if embed.Color == 0 {
		embed.Color = colorDefault
	}

	if msg.State == domain.StateOffline {
		embed.Color = colorOffline
		embed.Footer = &discordgo.MessageEmbedFooter{Text: "Stream ended"}
		if f.AvatarURL != "" {
			embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: f.AvatarURL}
		}
		return embed
	}

	if f.Category != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Category", Value: f.Category, Inline: true})
	}
	if f.Viewers > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Viewers", Value: fmt.Sprint(f.Viewers), Inline: true})
	}
	if f.Mature {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Mature", Value: "18+", Inline: true})
	}
	if f.ThumbnailURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: f.ThumbnailURL}
	}
	if !f.StartedAt.IsZero() {
		embed.Timestamp = f.StartedAt.UTC().Format(time.RFC3339)
		embed.Footer = &discordgo.MessageEmbedFooter{Text: "Live since"}
	}
	return embed
}

// content is the plain text above the embed. Only it can ping.
func content(msg domain.Message) string {
	name := msg.Fields.DisplayName
	switch msg.State {
	case domain.StateOffline:
		return fmt.Sprintf("%s was live.", name)
	default:
		text := fmt.Sprintf("%s is live! %s", name, msg.Fields.URL)
		if msg.MentionEveryone {
			text = "@everyone " + text
		}
		return text
	}
}

func allowedMentions(msg domain.Message) *discordgo.MessageAllowedMentions {
	parse := []discordgo.AllowedMentionType{}
	if msg.MentionEveryone && msg.State != domain.StateOffline {
		parse = append(parse, discordgo.AllowedMentionTypeEveryone)
	}
	return &discordgo.MessageAllowedMentions{Parse: parse}
}

func buildSend(msg domain.Message) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Content:         content(msg),
		Embeds:          []*discordgo.MessageEmbed{buildEmbed(msg)},
		AllowedMentions: allowedMentions(msg),
	}
}

func buildEdit(channelID, messageID string, msg domain.Message) *discordgo.MessageEdit {
	text := content(msg)
	embeds := []*discordgo.MessageEmbed{buildEmbed(msg)}
	return &discordgo.MessageEdit{
		ID:              messageID,
		Channel:         channelID,
		Content:         &text,
		Embeds:          &embeds,
		AllowedMentions: allowedMentions(msg),
	}
}
