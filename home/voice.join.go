package home

import (
	"errors"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/ingkoon/sing-bot/proc"
	"github.com/ingkoon/sing-bot/sys"
)

func handleVoiceJoin(event *events.ApplicationCommandInteractionCreate) {
	channelID, ok := requesterVoiceChannel(event)
	if !ok {
		_ = event.CreateMessage(discord.NewMessageCreate().WithContent(sys.ErrVoiceNotInChannel).WithEphemeral(true))
		return
	}

	_ = event.DeferCreateMessage(false)

	pm := proc.GetPlayerSystem()
	session := pm.Session(*event.GuildID())
	if err := session.Join(sys.AppContext, channelID); err != nil {
		voiceRespond(event, "Join failed: "+err.Error())
		return
	}

	voiceRespond(event, "👋 Joined <#"+channelID.String()+">")
}

func handleVoiceLeave(event *events.ApplicationCommandInteractionCreate) {
	pm := proc.GetPlayerSystem()
	session := pm.SessionIfExists(*event.GuildID())
	if session == nil {
		_ = event.CreateMessage(discord.NewMessageCreate().WithContent(sys.ErrVoiceNotConnected).WithEphemeral(true))
		return
	}

	if err := session.Leave(sys.AppContext); err != nil {
		if errors.Is(err, proc.ErrNotConnected) {
			_ = event.CreateMessage(discord.NewMessageCreate().WithContent(sys.ErrVoiceNotConnected).WithEphemeral(true))
			return
		}
		_ = event.CreateMessage(discord.NewMessageCreate().WithContent("Leave failed: " + err.Error()).WithEphemeral(true))
		return
	}

	_ = event.CreateMessage(discord.NewMessageCreate().WithContent("👋 Left the voice channel."))
}
