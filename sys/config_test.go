package sys

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Token:          "a-token",
		GuildID:        "123456789012345678",
		NormalEndRatio: 0.8,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}, wantErr: false},
		{name: "missing token", mutate: func(c *Config) { c.Token = "" }, wantErr: true},
		{name: "no guild is fine", mutate: func(c *Config) { c.GuildID = "" }, wantErr: false},
		{name: "guild too short", mutate: func(c *Config) { c.GuildID = "12345" }, wantErr: true},
		{name: "guild too long", mutate: func(c *Config) { c.GuildID = strings.Repeat("1", 25) }, wantErr: true},
		{name: "ratio zero", mutate: func(c *Config) { c.NormalEndRatio = 0 }, wantErr: true},
		{name: "ratio negative", mutate: func(c *Config) { c.NormalEndRatio = -0.5 }, wantErr: true},
		{name: "ratio above one", mutate: func(c *Config) { c.NormalEndRatio = 1.2 }, wantErr: true},
		{name: "ratio exactly one", mutate: func(c *Config) { c.NormalEndRatio = 1 }, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(EnvDiscordToken, "a-token")
	t.Setenv(EnvGuildID, "")
	t.Setenv(EnvDatabasePath, "")
	t.Setenv(EnvNormalEndRatio, "")
	t.Setenv(EnvFFmpegPath, "")
	t.Setenv(EnvCookiesFile, "")
	t.Setenv(EnvOwnerIDs, "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.InDelta(t, 0.8, cfg.NormalEndRatio, 1e-9)
	assert.Contains(t, cfg.DatabasePath, "_journal_mode=WAL")
	assert.Empty(t, cfg.OwnerIDs)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv(EnvDiscordToken, "a-token")
	t.Setenv(EnvGuildID, "123456789012345678")
	t.Setenv(EnvNormalEndRatio, "0.9")
	t.Setenv(EnvFFmpegPath, "/usr/local/bin/ffmpeg")
	t.Setenv(EnvOwnerIDs, "1, 2 ,3")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "123456789012345678", cfg.GuildID)
	assert.InDelta(t, 0.9, cfg.NormalEndRatio, 1e-9)
	assert.Equal(t, "/usr/local/bin/ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, []string{"1", "2", "3"}, cfg.OwnerIDs)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv(EnvGuildID, "")
	t.Setenv(EnvDiscordToken, "")
	_, err := LoadConfig()
	assert.Error(t, err, "a missing token must fail fast")

	t.Setenv(EnvDiscordToken, "a-token")
	t.Setenv(EnvNormalEndRatio, "1.5")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigDropsMissingCookieJar(t *testing.T) {
	t.Setenv(EnvDiscordToken, "a-token")
	t.Setenv(EnvGuildID, "")
	t.Setenv(EnvNormalEndRatio, "")
	t.Setenv(EnvCookiesFile, "/definitely/not/a/real/cookies.txt")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.CookiesFile)
}
