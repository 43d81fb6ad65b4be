package proc

import (
	"bufio"
	"context"
	"os/exec"
	"strings"
	"sync"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"

	"github.com/ingkoon/sing-bot/sys"
)

// Transport owns the voice connection and the audio pipeline for a guild.
// Start is asynchronous: it returns once the stream is rolling and invokes
// onEnd from its own goroutine when the stream stops for any reason,
// including Stop and Disconnect.
type Transport interface {
	Connect(ctx context.Context, guildID, channelID snowflake.ID) error
	Disconnect(ctx context.Context, guildID snowflake.ID)
	Start(ctx context.Context, guildID snowflake.ID, track *Track, onEnd func()) error
	Stop(guildID snowflake.ID)
	HumanCount(guildID snowflake.ID, channelID snowflake.ID) int
}

type activeStream struct {
	cmd      *exec.Cmd
	provider *StreamProvider
}

// discordTransport implements Transport on a disgo voice connection with an
// ffmpeg transcode to Ogg/Opus.
type discordTransport struct {
	client bot.Client
	cfg    *sys.Config

	mu      sync.Mutex
	conns   map[snowflake.ID]voice.Conn
	streams map[snowflake.ID]*activeStream
}

func NewDiscordTransport(client bot.Client, cfg *sys.Config) Transport {
	return &discordTransport{
		client:  client,
		cfg:     cfg,
		conns:   make(map[snowflake.ID]voice.Conn),
		streams: make(map[snowflake.ID]*activeStream),
	}
}

func (t *discordTransport) Connect(ctx context.Context, guildID, channelID snowflake.ID) error {
	t.mu.Lock()
	conn, ok := t.conns[guildID]
	if !ok {
		conn = t.client.VoiceManager.CreateConn(guildID)
		t.conns[guildID] = conn
	}
	t.mu.Unlock()

	if err := t.client.UpdateVoiceState(ctx, guildID, &channelID, false, false); err != nil {
		conn.Close(ctx)
		t.mu.Lock()
		delete(t.conns, guildID)
		t.mu.Unlock()
		return err
	}
	return nil
}

func (t *discordTransport) Disconnect(ctx context.Context, guildID snowflake.ID) {
	t.Stop(guildID)

	t.mu.Lock()
	conn, ok := t.conns[guildID]
	delete(t.conns, guildID)
	t.mu.Unlock()

	if ok {
		conn.Close(ctx)
	}
	_ = t.client.UpdateVoiceState(ctx, guildID, nil, false, false)
}

// Start launches the transcoder for the track and feeds its output to the
// voice connection. onEnd fires once, when the stream finishes or is killed.
func (t *discordTransport) Start(ctx context.Context, guildID snowflake.ID, track *Track, onEnd func()) error {
	t.mu.Lock()
	conn, ok := t.conns[guildID]
	t.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	t.Stop(guildID)

	cmd := exec.Command(t.cfg.FFmpegPath, transcodeArgs(track.StreamURL)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, _ := cmd.StderrPipe()

	if err := cmd.Start(); err != nil {
		return err
	}

	sys.SafeGo(func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			sys.LogVoice("ffmpeg: %s", scanner.Text())
		}
	})

	provider := NewStreamProvider(stdout)
	provider.OnFinish = func() {
		conn.SetOpusFrameProvider(nil)
		conn.SetSpeaking(context.TODO(), 0)

		t.mu.Lock()
		if s, ok := t.streams[guildID]; ok && s.cmd == cmd {
			delete(t.streams, guildID)
		}
		t.mu.Unlock()

		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()

		onEnd()
	}

	t.mu.Lock()
	t.streams[guildID] = &activeStream{cmd: cmd, provider: provider}
	t.mu.Unlock()

	conn.SetOpusFrameProvider(provider)
	conn.SetSpeaking(ctx, voice.SpeakingFlagMicrophone)
	return nil
}

// Stop kills the active transcoder. The provider hits EOF and fires its
// OnFinish, so the completion path is the same as a natural end.
func (t *discordTransport) Stop(guildID snowflake.ID) {
	t.mu.Lock()
	s, ok := t.streams[guildID]
	t.mu.Unlock()

	if ok && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

// HumanCount counts non-bot, non-deafened listeners in the channel.
func (t *discordTransport) HumanCount(guildID snowflake.ID, channelID snowflake.ID) int {
	count := 0
	for state := range t.client.Caches.VoiceStates(guildID) {
		if state.ChannelID == nil || *state.ChannelID != channelID || state.UserID == t.client.ID() {
			continue
		}
		if state.SelfDeaf {
			continue
		}
		if m, ok := t.client.Caches.Member(guildID, state.UserID); !ok || !m.User.Bot {
			count++
		}
	}
	return count
}

// transcodeArgs builds the ffmpeg invocation that converts the source stream
// into Ogg/Opus on stdout.
func transcodeArgs(input string) []string {
	args := []string{
		"-i", input,
		"-map", "0:a",
		"-acodec", "libopus",
		"-b:a", "128k",
		"-vbr", "on",
		"-compression_level", "10",
		"-analyzeduration", "0",
		"-probesize", "32",
		"-f", "opus",
		"pipe:1",
	}
	if strings.HasPrefix(input, "http") {
		args = append([]string{
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "2",
			"-user_agent", "Mozilla/5.0",
			"-fflags", "nobuffer",
			"-flags", "low_delay",
		}, args...)
	}
	return args
}
