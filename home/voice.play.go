package home

import (
	"errors"
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/ingkoon/sing-bot/proc"
	"github.com/ingkoon/sing-bot/sys"
)

func handleVoicePlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	query := strings.TrimSpace(data.String("query"))
	if query == "" {
		_ = event.CreateMessage(discord.NewMessageCreate().WithContent(sys.ErrVoiceUsagePlay).WithEphemeral(true))
		return
	}

	channelID, ok := requesterVoiceChannel(event)
	if !ok {
		_ = event.CreateMessage(discord.NewMessageCreate().WithContent(sys.ErrVoiceNotInChannel).WithEphemeral(true))
		return
	}

	_ = event.DeferCreateMessage(false)

	pm := proc.GetPlayerSystem()
	session := pm.Session(*event.GuildID())
	track, position, err := session.Play(sys.AppContext, channelID, query, event.User().ID.String())
	if err != nil {
		var resErr *proc.ResolutionError
		if errors.As(err, &resErr) {
			sys.LogVoice("Resolution failed for %q: %v", query, err)
			voiceRespond(event, sys.ErrVoiceResolveFailed)
			return
		}
		voiceRespond(event, "Playback failed: "+err.Error())
		return
	}

	if position > 0 {
		voiceRespond(event, fmt.Sprintf("✅ Queued at #%d: %s", position, trackLink(track)))
		return
	}
	voiceRespond(event, "🎶 Playing: "+trackLink(track))
}

func handleVoiceAutocomplete(event *events.AutocompleteInteractionCreate) {
	focused := event.Data.Focused()
	if focused.Name != "query" {
		return
	}
	query := strings.TrimSpace(focused.String())
	if query == "" || proc.IsDirectURL(query) {
		_ = event.AutocompleteResult(nil)
		return
	}

	pm := proc.GetPlayerSystem()
	results, err := pm.Resolver().ResolveTop(sys.AppContext, query, 5)
	if err != nil {
		_ = event.AutocompleteResult(nil)
		return
	}

	var choices []discord.AutocompleteChoice
	for _, t := range results {
		name := t.DisplayTitle()
		if t.Channel != "" {
			name += " - " + t.Channel
		}
		if len(name) > 100 {
			name = name[:97] + "..."
		}
		val := t.URL
		if len(val) > 100 {
			continue
		}
		choices = append(choices, discord.AutocompleteChoiceString{Name: name, Value: val})
	}
	_ = event.AutocompleteResult(choices)
}

// requesterVoiceChannel returns the voice channel the invoking user is in.
func requesterVoiceChannel(event *events.ApplicationCommandInteractionCreate) (snowflake.ID, bool) {
	if event.GuildID() == nil || event.Member() == nil {
		return 0, false
	}
	state, ok := event.Client().Caches.VoiceState(*event.GuildID(), event.User().ID)
	if !ok || state.ChannelID == nil {
		return 0, false
	}
	return *state.ChannelID, true
}

func voiceRespond(event *events.ApplicationCommandInteractionCreate, content string) {
	_, _ = event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.NewMessageUpdate().
		WithContent(content))
}

func trackLink(t *proc.Track) string {
	return "[" + t.DisplayTitle() + "](" + t.URL + ")"
}
