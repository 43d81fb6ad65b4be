package home

import (
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/events"
	"github.com/ingkoon/sing-bot/sys"
)

const historyPageSize = 10

func handleVoiceHistory(event *events.ApplicationCommandInteractionCreate) {
	_ = event.DeferCreateMessage(true)

	guildID := event.GuildID().String()
	records, err := sys.GetRecentPlays(sys.AppContext, guildID, historyPageSize)
	if err != nil {
		sys.LogDatabase("Failed to load play history: %v", err)
		voiceRespond(event, "Could not load play history.")
		return
	}
	if len(records) == 0 {
		voiceRespond(event, "Nothing has been played here yet.")
		return
	}

	total, _ := sys.GetPlayCount(sys.AppContext, guildID)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📜 **Recent plays** (%d total):\n", total))
	for i, rec := range records {
		sb.WriteString(fmt.Sprintf("%d. [%s](%s) • <t:%d:R>\n", i+1, rec.Title, rec.URL, rec.PlayedAt.Unix()))
	}

	voiceRespond(event, sb.String())
}
