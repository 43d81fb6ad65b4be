package home

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/ingkoon/sing-bot/proc"
	"github.com/ingkoon/sing-bot/sys"
)

func handleVoiceList(event *events.ApplicationCommandInteractionCreate) {
	pm := proc.GetPlayerSystem()
	session := pm.SessionIfExists(*event.GuildID())
	if session == nil {
		_ = event.CreateMessage(discord.NewMessageCreate().WithContent(sys.ErrVoiceQueueEmpty).WithEphemeral(true))
		return
	}

	current, queue, playing := session.QueueSnapshot()
	if !playing && len(queue) == 0 {
		_ = event.CreateMessage(discord.NewMessageCreate().WithContent(sys.ErrVoiceQueueEmpty).WithEphemeral(true))
		return
	}

	var sb strings.Builder
	if current != nil {
		elapsed := "live"
		if current.Duration > 0 {
			elapsed = fmt.Sprintf("%s / %s", formatTrackTime(current), current.Duration.Round(time.Second))
		}
		sb.WriteString(fmt.Sprintf("▶️ **Now playing:** %s (%s)\n", trackLink(current), elapsed))
	}
	if len(queue) > 0 {
		sb.WriteString("\n**Up next:**\n")
		for i, t := range queue {
			sb.WriteString(fmt.Sprintf("%d. %s", i+1, trackLink(t)))
			if t.Duration > 0 {
				sb.WriteString(fmt.Sprintf(" (%s)", t.Duration.Round(time.Second)))
			}
			sb.WriteString("\n")
		}
	}

	_ = event.CreateMessage(discord.NewMessageCreate().WithContent(sb.String()))
}

func handleVoiceRemove(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	position := data.Int("position")

	pm := proc.GetPlayerSystem()
	session := pm.SessionIfExists(*event.GuildID())
	if session == nil {
		_ = event.CreateMessage(discord.NewMessageCreate().WithContent(sys.ErrVoiceNotConnected).WithEphemeral(true))
		return
	}

	// Positions are 1-based as shown by /voice list.
	removed, err := session.Remove(position - 1)
	if err != nil {
		if errors.Is(err, proc.ErrInvalidRequest) {
			_ = event.CreateMessage(discord.NewMessageCreate().WithContent(sys.ErrVoiceBadIndex).WithEphemeral(true))
			return
		}
		_ = event.CreateMessage(discord.NewMessageCreate().WithContent("Remove failed: " + err.Error()).WithEphemeral(true))
		return
	}

	_ = event.CreateMessage(discord.NewMessageCreate().
		WithContent("🗑️ Removed: " + trackLink(removed)))
}

func handleVoiceShuffle(event *events.ApplicationCommandInteractionCreate) {
	pm := proc.GetPlayerSystem()
	session := pm.SessionIfExists(*event.GuildID())
	if session == nil {
		_ = event.CreateMessage(discord.NewMessageCreate().WithContent(sys.ErrVoiceNotConnected).WithEphemeral(true))
		return
	}

	n := session.Shuffle()
	if n == 0 {
		_ = event.CreateMessage(discord.NewMessageCreate().WithContent(sys.ErrVoiceNothingToMix).WithEphemeral(true))
		return
	}

	_ = event.CreateMessage(discord.NewMessageCreate().
		WithContent(fmt.Sprintf("🔀 Shuffled %d tracks.", n)))
}

func formatTrackTime(t *proc.Track) string {
	if t.StartedAt.IsZero() {
		return "0s"
	}
	return time.Since(t.StartedAt).Round(time.Second).String()
}
