package sys

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Token        string
	GuildID      string
	DatabasePath string
	OwnerIDs     []string
	Silent       bool

	// Resolver / playback tuning
	CookiesFile    string  // yt-dlp cookie jar handed to the upstream access profiles
	ProxyURL       string  // optional proxy for upstream lookups
	FFmpegPath     string  // override for the ffmpeg binary
	NormalEndRatio float64 // elapsed/duration ratio above which a track end counts as normal
}

var GlobalConfig *Config

// Validate ensures the configuration is valid and meets requirements.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}

	// Basic Snowflake validation for GuildID if provided
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf(MsgConfigInvalidGuildID)
	}

	if c.NormalEndRatio <= 0 || c.NormalEndRatio > 1 {
		return fmt.Errorf(MsgConfigInvalidEndRatio, c.NormalEndRatio)
	}

	return nil
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	token := os.Getenv(EnvDiscordToken)
	dbPath := os.Getenv(EnvDatabasePath)
	if dbPath == "" {
		dbPath = filepath.Join(".", GetProjectName()+".db")
	}

	silent, _ := strconv.ParseBool(os.Getenv(EnvSilent))

	ownerIDsStr := os.Getenv(EnvOwnerIDs)
	var ownerIDs []string
	if ownerIDsStr != "" {
		ownerIDs = strings.Split(ownerIDsStr, ",")
		for i := range ownerIDs {
			ownerIDs[i] = strings.TrimSpace(ownerIDs[i])
		}
	}

	cfg := &Config{
		Token:        token,
		GuildID:      os.Getenv(EnvGuildID),
		DatabasePath: fmt.Sprintf("%s?_journal_mode=WAL&_timeout=5000", dbPath),
		OwnerIDs:     ownerIDs,
		Silent:       silent,
		CookiesFile:  os.Getenv(EnvCookiesFile),
		ProxyURL:     os.Getenv(EnvProxyURL),
		FFmpegPath:   os.Getenv(EnvFFmpegPath),
	}

	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}

	cfg.NormalEndRatio, _ = strconv.ParseFloat(os.Getenv(EnvNormalEndRatio), 64)
	if cfg.NormalEndRatio == 0 {
		cfg.NormalEndRatio = 0.8
	}

	// The cookie jar is optional; warn if it points nowhere so profile failures
	// are diagnosable from the log.
	if cfg.CookiesFile != "" {
		if _, err := os.Stat(cfg.CookiesFile); err != nil {
			LogWarn(MsgConfigCookiesMissing, cfg.CookiesFile)
			cfg.CookiesFile = ""
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "sing-bot"
	if err == nil {
		projectName = filepath.Base(exePath)
		projectName = strings.TrimSuffix(projectName, ".exe")

		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") {
			if modData, err := os.ReadFile("go.mod"); err == nil {
				lines := strings.Split(string(modData), "\n")
				if len(lines) > 0 && strings.HasPrefix(lines[0], "module ") {
					parts := strings.Split(lines[0], "/")
					projectName = strings.TrimSpace(parts[len(parts)-1])
				}
			}
		}
	}
	return projectName
}
