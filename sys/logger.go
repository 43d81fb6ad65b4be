package sys

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

var (
	// Style definitions
	infoColor     = color.New(color.FgHiBlack)
	warnColor     = color.New(color.FgHiYellow)
	errorColor    = color.New(color.FgHiRed)
	fatalColor    = color.New(color.FgHiRed, color.Bold)
	databaseColor = color.New(color.FgHiBlack)
	voiceColor    = color.New(color.FgHiMagenta)
	resolverColor = color.New(color.FgHiCyan)

	IsSilent  = false
	LogToFile = false

	// Global default logger
	Logger *slog.Logger

	// Log file handling
	logFile *os.File
	logMu   sync.Mutex
)

func init() {
	InitLogger(false, false)
}

// InitLogger initializes the global structured logger
func InitLogger(silent bool, saveToFile bool) {
	logMu.Lock()
	defer logMu.Unlock()

	IsSilent = silent
	LogToFile = saveToFile
	level := slog.LevelInfo
	if strings.ToLower(os.Getenv("DEBUG")) == "true" {
		level = slog.LevelDebug
	}

	// Clean up previous file if it exists (e.g. during reload)
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	var writer io.Writer = os.Stdout
	var err error

	// Open log file if requested
	if LogToFile {
		// Determine log file name from executable name
		exePath, exeErr := os.Executable()
		logName := "sing-bot.log" // Fallback
		if exeErr == nil {
			logName = filepath.Base(exePath) + ".log"
		}

		logFile, err = os.OpenFile(logName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", logName, err)
		} else {
			writer = io.MultiWriter(os.Stdout, logFile)
		}
	}

	handler := NewBotLogHandler(writer, &BotLogHandlerOptions{
		Silent: IsSilent,
		Level:  level,
	})
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

func SetSilentMode(silent bool) {
	InitLogger(silent, LogToFile)
}

// --- Log Functions ---

func LogInfo(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...))
}

func LogWarn(format string, v ...any) {
	slog.Warn(fmt.Sprintf(format, v...))
}

func LogError(format string, v ...any) {
	slog.Error(fmt.Sprintf(format, v...))
}

func LogFatal(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	slog.Log(context.Background(), slog.LevelError+4, msg) // Custom Fatal level
	os.Exit(1)
}

func LogDebug(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...))
}

func LogDatabase(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "database"))
}

func LogVoice(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "voice"))
}

func LogResolver(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "resolver"))
}

// --- Custom Slog Handler ---

type BotLogHandlerOptions struct {
	Silent bool
	Level  slog.Leveler
}

type BotLogHandler struct {
	w    io.Writer
	opts *BotLogHandlerOptions
	mu   *sync.Mutex
}

func NewBotLogHandler(w io.Writer, opts *BotLogHandlerOptions) *BotLogHandler {
	if opts == nil {
		opts = &BotLogHandlerOptions{Level: slog.LevelInfo}
	}
	return &BotLogHandler{
		w:    w,
		opts: opts,
		mu:   &sync.Mutex{},
	}
}

func (h *BotLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.opts.Silent {
		return false
	}
	return level >= h.opts.Level.Level()
}

func (h *BotLogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.opts.Silent {
		return nil
	}

	timeStr := time.Now().Format("15:04:05")
	var levelStr string
	var levelColor *color.Color

	switch {
	case r.Level >= slog.LevelError+4: // Fatal
		levelStr = "FATAL"
		levelColor = fatalColor
	case r.Level >= slog.LevelError:
		levelStr = "ERROR"
		levelColor = errorColor
	case r.Level >= slog.LevelWarn:
		levelStr = "WARN"
		levelColor = warnColor
	default:
		levelStr = "INFO"
		levelColor = infoColor
	}

	// Extract component if present
	component := ""
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = strings.ToUpper(a.Value.String())
			return false
		}
		return true
	})

	// Output: 15:04:05 [INFO] [COMPONENT] Message
	fmt.Fprintf(h.w, "%s", timeStr)

	if component != "" {
		if levelStr != "INFO" {
			fmt.Fprintf(h.w, " %s", levelColor.Sprintf("[%s]", levelStr))
		}
		compColor := getComponentColor(component)
		fmt.Fprintf(h.w, " %s\n", compColor.Sprintf("[%s] %s", component, r.Message))
	} else {
		fmt.Fprintf(h.w, " %s\n", levelColor.Sprintf("[%s] %s", levelStr, r.Message))
	}

	return nil
}

func (h *BotLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *BotLogHandler) WithGroup(name string) slog.Handler       { return h }

func getComponentColor(name string) *color.Color {
	switch name {
	case "DATABASE":
		return databaseColor
	case "VOICE":
		return voiceColor
	case "RESOLVER":
		return resolverColor
	default:
		return color.New(color.FgCyan)
	}
}

// @config
const (
	MsgConfigFailedToLoad    = "Failed to load config: %v"
	MsgConfigMissingToken    = "DISCORD_TOKEN is not set in .env file"
	MsgConfigInvalidGuildID  = "invalid GUILD_ID: must be a valid Snowflake"
	MsgConfigInvalidEndRatio = "invalid NORMAL_END_RATIO %v: must be in (0, 1]"
	MsgConfigCookiesMissing  = "YTDLP_COOKIES points to a missing file: %s (continuing without cookies)"

	// Environment Variables
	EnvDiscordToken   = "DISCORD_TOKEN"
	EnvGuildID        = "GUILD_ID"
	EnvDatabasePath   = "DATABASE_PATH"
	EnvSilent         = "SILENT"
	EnvOwnerIDs       = "OWNER_IDS"
	EnvCookiesFile    = "YTDLP_COOKIES"
	EnvProxyURL       = "YOUTUBE_PROXY"
	EnvFFmpegPath     = "FFMPEG_PATH"
	EnvNormalEndRatio = "NORMAL_END_RATIO"
)

// @database
const (
	MsgDatabaseInitSuccess = "Database initialized successfully"
	MsgDatabaseTableError  = "Failed to create table: %w"
	MsgDatabasePragmaError = "Failed to set pragma %s: %w"
)

// @loader
const (
	MsgLoaderRegistering        = "Registering commands..."
	MsgLoaderGuildRegister      = "Registering commands to guild: %s"
	MsgLoaderGlobalClear        = "Clearing global commands..."
	MsgLoaderGlobalCleared      = "Global commands cleared."
	MsgLoaderGlobalClearFail    = "Failed to clear global commands: %v"
	MsgLoaderCommandRegistered  = "Registered guild command: %s"
	MsgLoaderRegisteringGlobal  = "Registering commands globally..."
	MsgLoaderRegisterGlobalFail = "failed to register global commands: %w"
	MsgLoaderGlobalRegistered   = "Registered global command: %s"
	MsgLoaderPanicRecovered     = "Panic recovered in handler: %v"
	MsgGenericError             = "%v"
	MsgDaemonStarting           = "Starting..."
)

// @bot
const (
	MsgBotStarting      = "Starting %s..."
	MsgBotReady         = "%s is ready! (ID: %s) (PID: %d)"
	MsgBotShutdown      = "Shutting down %s..."
	MsgBotKillingOld    = "Killing running instance... (PID: %d)"
	MsgBotKillFail      = "Failed to kill old instance: %v"
	MsgBotOldTerminated = "Old instance terminated."
	MsgBotPIDWriteFail  = "Failed to write PID file: %v"
	MsgBotRegisterFail  = "Command registration failed: %v"
	MsgBotGatewayFail   = "failed to open gateway: %w"
	MsgBotClientFail    = "failed to create Discord client: %w"
	MsgDatabaseInitFail = "Failed to initialize database: %v"
	MsgDaemonShutdown   = "Shutting down all daemons..."
)

// @voice
const (
	// User-facing messages
	ErrVoiceNotInChannel   = "Join a voice channel first."
	ErrVoiceNotConnected   = "The bot is not in a voice channel."
	ErrVoiceNothingPlaying = "Nothing is playing right now."
	ErrVoiceQueueEmpty     = "Nothing is playing or waiting in the queue."
	ErrVoiceNothingToMix   = "There is nothing in the queue to shuffle."
	ErrVoiceBadIndex       = "That queue position does not exist."
	ErrVoiceUsagePlay      = "Usage: `/voice play <search terms or YouTube link>`"
	ErrVoiceUsageSearch    = "Usage: `/voice search <search terms>`"
	ErrVoiceResolveFailed  = "Could not resolve that track. YouTube may have flagged the request or the video is blocked; try different search terms or another link."
	ErrVoiceSelectExpired  = "That selection is no longer playable. Pick another result or search again."
)
