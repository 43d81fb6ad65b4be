package sys

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/godave/golibdave"
	"github.com/disgoorg/snowflake/v2"
)

var AppContext context.Context
var StartupTime = time.Now()

var commands = []discord.ApplicationCommandCreate{}
var commandHandlers = map[string]func(event *events.ApplicationCommandInteractionCreate){}
var autocompleteHandlers = map[string]func(event *events.AutocompleteInteractionCreate){}
var componentHandlers = map[string]func(event *events.ComponentInteractionCreate){}
var voiceStateUpdateHandlers []func(event *events.GuildVoiceStateUpdate)
var onClientReadyCallbacks []func(ctx context.Context, client bot.Client)
var onReadyCallbacks []func(event *events.Ready)

func SetAppContext(ctx context.Context) {
	AppContext = ctx
}

// CreateClient builds the disgo client with all gateway intents, caches and
// event dispatchers the bot needs. The gateway is opened by the caller.
func CreateClient(ctx context.Context, cfg *Config) (bot.Client, error) {
	client, err := disgo.New(cfg.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMessages,
				gateway.IntentGuildMembers,
				gateway.IntentGuildVoiceStates,
			),
			gateway.WithPresenceOpts(
				gateway.WithListeningActivity("the queue"),
				gateway.WithOnlineStatus(discord.OnlineStatusOnline),
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagMembers, cache.FlagChannels, cache.FlagVoiceStates),
		),
		bot.WithVoiceManagerConfigOpts(
			voice.WithDaveSessionCreateFunc(golibdave.NewSession),
		),
		bot.WithEventListenerFunc(onApplicationCommandInteraction),
		bot.WithEventListenerFunc(onAutocompleteInteraction),
		bot.WithEventListenerFunc(onComponentInteraction),
		bot.WithEventListenerFunc(onVoiceStateUpdate),
		bot.WithEventListenerFunc(onReady),
		bot.WithLogger(slog.Default()),
		bot.WithRestClientConfigOpts(
			rest.WithHTTPClient(&http.Client{
				Timeout: 60 * time.Second,
			}),
		),
	)
	if err != nil {
		return bot.Client{}, err
	}

	return *client, nil
}

func RegisterCommand(cmd discord.ApplicationCommandCreate, handler func(event *events.ApplicationCommandInteractionCreate)) {
	commands = append(commands, cmd)
	commandHandlers[cmd.CommandName()] = handler
}

func RegisterAutocompleteHandler(cmdName string, handler func(event *events.AutocompleteInteractionCreate)) {
	autocompleteHandlers[cmdName] = handler
}

func RegisterComponentHandler(customID string, handler func(event *events.ComponentInteractionCreate)) {
	componentHandlers[customID] = handler
}

func RegisterVoiceStateUpdateHandler(handler func(event *events.GuildVoiceStateUpdate)) {
	voiceStateUpdateHandlers = append(voiceStateUpdateHandlers, handler)
}

func OnClientReady(cb func(ctx context.Context, client bot.Client)) {
	onClientReadyCallbacks = append(onClientReadyCallbacks, cb)
}

func TriggerClientReady(ctx context.Context, client bot.Client) {
	for _, cb := range onClientReadyCallbacks {
		cb(ctx, client)
	}
}

func onReady(event *events.Ready) {
	client := *event.Client()
	TriggerClientReady(AppContext, client)
	StartDaemons(AppContext)
	for _, cb := range onReadyCallbacks {
		cb(event)
	}
}

func OnReady(cb func(event *events.Ready)) {
	onReadyCallbacks = append(onReadyCallbacks, cb)
}

// RegisterCommands pushes the registered commands to Discord. If a guild ID is
// provided, commands are registered to that guild and global commands cleared.
func RegisterCommands(client bot.Client, guildIDStr string) error {
	LogInfo(MsgLoaderRegistering)

	if guildIDStr != "" {
		guildID, err := snowflake.Parse(guildIDStr)
		if err != nil {
			return fmt.Errorf("invalid GUILD_ID: %w", err)
		}

		var errGuild, errGlobal error
		done := make(chan bool, 2)

		// 1. Register to Guild
		go func() {
			LogInfo(MsgLoaderGuildRegister, guildIDStr)
			createdCommands, err := client.Rest.SetGuildCommands(client.ApplicationID, guildID, commands)
			if err != nil {
				errGuild = err
			} else {
				for _, cmd := range createdCommands {
					LogInfo(MsgLoaderCommandRegistered, cmd.Name())
				}
			}
			done <- true
		}()

		// 2. Clear Global
		go func() {
			LogInfo(MsgLoaderGlobalClear)
			_, err := client.Rest.SetGlobalCommands(client.ApplicationID, []discord.ApplicationCommandCreate{})
			if err != nil {
				errGlobal = err
			} else {
				LogInfo(MsgLoaderGlobalCleared)
			}
			done <- true
		}()

		<-done
		<-done

		if errGuild != nil {
			return fmt.Errorf("failed to register guild commands: %w", errGuild)
		}
		if errGlobal != nil {
			LogWarn(MsgLoaderGlobalClearFail, errGlobal)
		}

		return nil
	}

	LogInfo(MsgLoaderRegisteringGlobal)
	createdCommands, err := client.Rest.SetGlobalCommands(client.ApplicationID, commands)
	if err != nil {
		return fmt.Errorf(MsgLoaderRegisterGlobalFail, err)
	}
	for _, cmd := range createdCommands {
		LogInfo(MsgLoaderGlobalRegistered, cmd.Name())
	}
	return nil
}

func onApplicationCommandInteraction(event *events.ApplicationCommandInteractionCreate) {
	if h, ok := commandHandlers[event.Data.CommandName()]; ok {
		SafeGo(func() { h(event) })
	}
}

func onAutocompleteInteraction(event *events.AutocompleteInteractionCreate) {
	if h, ok := autocompleteHandlers[event.Data.CommandName]; ok {
		SafeGo(func() { h(event) })
	}
}

func onComponentInteraction(event *events.ComponentInteractionCreate) {
	customID := event.Data.CustomID()
	// 1. Try exact match
	if h, ok := componentHandlers[customID]; ok {
		SafeGo(func() { h(event) })
		return
	}

	// 2. Try prefix match
	for prefix, h := range componentHandlers {
		if strings.HasSuffix(prefix, ":") && strings.HasPrefix(customID, prefix) {
			SafeGo(func() { h(event) })
			return
		}
	}
}

func onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	for _, h := range voiceStateUpdateHandlers {
		SafeGo(func() { h(event) })
	}
}

// --- Daemon registry ---

type daemonEntry struct {
	starter func(ctx context.Context) (bool, func(), func())
	logger  func(format string, v ...any)
}

var registeredDaemons []daemonEntry
var activeShutdownHooks []func()
var activeShutdownMu sync.Mutex
var daemonsOnce sync.Once

// RegisterDaemon registers a background daemon. The starter reports whether the
// daemon is active and returns its run loop and shutdown hook.
func RegisterDaemon(logger func(format string, v ...any), starter func(ctx context.Context) (bool, func(), func())) {
	registeredDaemons = append(registeredDaemons, daemonEntry{starter: starter, logger: logger})
}

func StartDaemons(ctx context.Context) {
	daemonsOnce.Do(func() {
		for _, daemon := range registeredDaemons {
			if ok, run, shutdown := daemon.starter(ctx); ok && run != nil {
				if shutdown != nil {
					activeShutdownMu.Lock()
					activeShutdownHooks = append(activeShutdownHooks, shutdown)
					activeShutdownMu.Unlock()
				}
				daemon.logger(MsgDaemonStarting)
				SafeGo(run)
			}
		}
	})
}

func ShutdownDaemons(ctx context.Context) {
	activeShutdownMu.Lock()
	hooks := append([]func(){}, activeShutdownHooks...)
	activeShutdownMu.Unlock()

	var wg sync.WaitGroup
	for _, shutdown := range hooks {
		wg.Add(1)
		s := shutdown
		SafeGo(func() {
			defer wg.Done()
			s()
		})
	}
	wg.Wait()
}

// SafeGo runs f on a new goroutine, recovering and logging panics so one bad
// handler cannot take down the process.
func SafeGo(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				LogError(MsgLoaderPanicRecovered, r)
				fmt.Printf("%s\n", debug.Stack())
			}
		}()
		f()
	}()
}
