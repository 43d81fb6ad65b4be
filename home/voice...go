package home

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/ingkoon/sing-bot/sys"
)

func init() {
	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "voice",
		Description: "Voice System",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Play a track or add it to the queue",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "query",
						Description:  "Search terms or a YouTube link",
						Required:     true,
						Autocomplete: true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "search",
				Description: "Search and pick from the top results",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "query",
						Description: "Search terms",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skip",
				Description: "Skip the current track",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "list",
				Description: "Show the current track and queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "remove",
				Description: "Remove a track from the queue",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "position",
						Description: "Queue position as shown by /voice list",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "shuffle",
				Description: "Shuffle the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "join",
				Description: "Join your voice channel",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "leave",
				Description: "Stop playback and leave",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "history",
				Description: "Show recently played tracks",
			},
		},
	}, func(event *events.ApplicationCommandInteractionCreate) {
		data := event.SlashCommandInteractionData()
		if data.SubCommandName == nil {
			return
		}

		switch *data.SubCommandName {
		case "play":
			handleVoicePlay(event, data)
		case "search":
			handleVoiceSearch(event, data)
		case "skip":
			handleVoiceSkip(event)
		case "list":
			handleVoiceList(event)
		case "remove":
			handleVoiceRemove(event, data)
		case "shuffle":
			handleVoiceShuffle(event)
		case "join":
			handleVoiceJoin(event)
		case "leave":
			handleVoiceLeave(event)
		case "history":
			handleVoiceHistory(event)
		}
	})

	sys.RegisterAutocompleteHandler("voice", handleVoiceAutocomplete)
	sys.RegisterComponentHandler("voice:pick", handleVoiceSearchSelect)
}
