package home

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/ingkoon/sing-bot/proc"
	"github.com/ingkoon/sing-bot/sys"
)

const searchResultCount = 5

func handleVoiceSearch(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	query := strings.TrimSpace(data.String("query"))
	if query == "" {
		_ = event.CreateMessage(discord.NewMessageCreate().WithContent(sys.ErrVoiceUsageSearch).WithEphemeral(true))
		return
	}

	if _, ok := requesterVoiceChannel(event); !ok {
		_ = event.CreateMessage(discord.NewMessageCreate().WithContent(sys.ErrVoiceNotInChannel).WithEphemeral(true))
		return
	}

	_ = event.DeferCreateMessage(false)

	pm := proc.GetPlayerSystem()
	results, err := pm.Resolver().ResolveTop(sys.AppContext, query, searchResultCount)
	if err != nil {
		sys.LogVoice("Search failed for %q: %v", query, err)
		voiceRespond(event, sys.ErrVoiceResolveFailed)
		return
	}

	var lines []string
	var options []discord.StringSelectMenuOption
	for i, t := range results {
		label := t.DisplayTitle()
		if len(label) > 100 {
			label = label[:97] + "..."
		}
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, trackLink(t)))
		opt := discord.NewStringSelectMenuOption(label, strconv.Itoa(i))
		if t.Channel != "" {
			opt = opt.WithDescription(t.Channel)
		}
		options = append(options, opt)
	}

	msg, err := event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.NewMessageUpdate().
		WithContent(fmt.Sprintf("🔎 Results for **%s**:\n%s", query, strings.Join(lines, "\n"))).
		AddActionRow(discord.NewStringSelectMenu("voice:pick", "Pick a track to play", options...)))
	if err != nil || msg == nil {
		return
	}

	pm.Selections().Register(msg.ID.String(), results, event.User().ID.String())
}

func handleVoiceSearchSelect(event *events.ComponentInteractionCreate) {
	data := event.StringSelectMenuInteractionData()
	if len(data.Values) == 0 {
		return
	}
	index, err := strconv.Atoi(data.Values[0])
	if err != nil {
		return
	}

	// Check the clicker's voice state before burning the prompt; someone in
	// voice can still redeem it afterwards.
	channelID, ok := componentVoiceChannel(event)
	if !ok {
		_ = event.CreateMessage(discord.NewMessageCreate().WithContent(sys.ErrVoiceNotInChannel).WithEphemeral(true))
		return
	}

	pm := proc.GetPlayerSystem()
	candidate, _, err := pm.Selections().Take(event.Message.ID.String(), index)
	if err != nil {
		// Second click on an already-redeemed prompt; just acknowledge.
		_ = event.DeferUpdateMessage()
		return
	}

	_ = event.DeferUpdateMessage()

	// Candidates carry no stream locator; revalidate through the resolver.
	track, err := pm.Resolver().Resolve(sys.AppContext, candidate.URL)
	if err != nil {
		sys.LogVoice("Selected candidate no longer playable: %v", err)
		_, _ = event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.NewMessageUpdate().
			WithContent(sys.ErrVoiceSelectExpired).
			ClearComponents())
		return
	}
	track.Requester = event.User().ID.String()

	session := pm.Session(*event.GuildID())
	position, err := session.EnqueueResolved(sys.AppContext, channelID, track)
	if err != nil {
		_, _ = event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.NewMessageUpdate().
			WithContent("Playback failed: "+err.Error()).
			ClearComponents())
		return
	}

	content := "🎶 Playing: " + trackLink(track)
	if position > 0 {
		content = fmt.Sprintf("✅ Queued at #%d: %s", position, trackLink(track))
	}
	_, _ = event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.NewMessageUpdate().
		WithContent(content).
		ClearComponents())
}

func componentVoiceChannel(event *events.ComponentInteractionCreate) (snowflake.ID, bool) {
	if event.GuildID() == nil {
		return 0, false
	}
	state, ok := event.Client().Caches.VoiceState(*event.GuildID(), event.User().ID)
	if !ok || state.ChannelID == nil {
		return 0, false
	}
	return *state.ChannelID, true
}
