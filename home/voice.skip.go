package home

import (
	"errors"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/ingkoon/sing-bot/proc"
	"github.com/ingkoon/sing-bot/sys"
)

func handleVoiceSkip(event *events.ApplicationCommandInteractionCreate) {
	pm := proc.GetPlayerSystem()
	session := pm.SessionIfExists(*event.GuildID())
	if session == nil {
		_ = event.CreateMessage(discord.NewMessageCreate().WithContent(sys.ErrVoiceNotConnected).WithEphemeral(true))
		return
	}

	skipped, err := session.Skip()
	if err != nil {
		if errors.Is(err, proc.ErrNothingPlaying) {
			_ = event.CreateMessage(discord.NewMessageCreate().WithContent(sys.ErrVoiceNothingPlaying).WithEphemeral(true))
			return
		}
		_ = event.CreateMessage(discord.NewMessageCreate().WithContent("Skip failed: " + err.Error()).WithEphemeral(true))
		return
	}

	_ = event.CreateMessage(discord.NewMessageCreate().
		WithContent("⏭️ Skipped: " + trackLink(skipped)))
}
