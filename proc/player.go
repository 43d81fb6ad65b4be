package proc

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"

	"github.com/ingkoon/sing-bot/sys"
)

// settleDelay is the pause between a stream ending and the completion being
// acted on, so back-to-back tracks do not clip into each other.
const defaultSettleDelay = 500 * time.Millisecond

var (
	PlayerManager *PlayerSystem
	OncePlayer    sync.Once
)

// InitPlayerSystem wires the production player against the live gateway
// client. Idempotent; later calls return the first instance.
func InitPlayerSystem(client bot.Client, cfg *sys.Config) *PlayerSystem {
	OncePlayer.Do(func() {
		PlayerManager = NewPlayerSystem(NewDiscordTransport(client, cfg), NewResolver(cfg), cfg)
	})
	return PlayerManager
}

// GetPlayerSystem returns the singleton player, or nil before InitPlayerSystem.
func GetPlayerSystem() *PlayerSystem {
	return PlayerManager
}

// PlayerSystem owns one PlayerSession per guild plus the shared resolver and
// selection registry.
type PlayerSystem struct {
	mu       sync.Mutex
	sessions map[snowflake.ID]*PlayerSession

	transport   Transport
	resolver    *Resolver
	selections  *SelectionRegistry
	cfg         *sys.Config
	settleDelay time.Duration
}

func NewPlayerSystem(transport Transport, resolver *Resolver, cfg *sys.Config) *PlayerSystem {
	return &PlayerSystem{
		sessions:    make(map[snowflake.ID]*PlayerSession),
		transport:   transport,
		resolver:    resolver,
		selections:  NewSelectionRegistry(),
		cfg:         cfg,
		settleDelay: defaultSettleDelay,
	}
}

func (ps *PlayerSystem) Resolver() *Resolver            { return ps.resolver }
func (ps *PlayerSystem) Selections() *SelectionRegistry { return ps.selections }

// Session returns the guild's session, creating it on first use. Creation is
// idempotent; concurrent callers get the same instance.
func (ps *PlayerSystem) Session(guildID snowflake.ID) *PlayerSession {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if s, ok := ps.sessions[guildID]; ok {
		return s
	}
	s := &PlayerSession{
		guildID: guildID,
		sys:     ps,
		tasks:   make(chan func(), 64),
		closed:  make(chan struct{}),
	}
	sys.SafeGo(s.loop)
	ps.sessions[guildID] = s
	return s
}

// SessionIfExists returns the guild's session without creating one.
func (ps *PlayerSystem) SessionIfExists(guildID snowflake.ID) *PlayerSession {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.sessions[guildID]
}

// OnVoiceStateUpdate reacts to the bot being moved or kicked from voice by an
// external actor, releasing session state that no longer matches reality.
func (ps *PlayerSystem) OnVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	if event.VoiceState.UserID != event.Client().ID() {
		return
	}
	if event.VoiceState.ChannelID != nil {
		return
	}
	if s := ps.SessionIfExists(event.VoiceState.GuildID); s != nil {
		sys.LogVoice("Externally disconnected in guild %s", event.VoiceState.GuildID)
		s.handleExternalDisconnect()
	}
}

// Shutdown disconnects every session. Used on process exit.
func (ps *PlayerSystem) Shutdown(ctx context.Context) {
	ps.mu.Lock()
	sessions := make([]*PlayerSession, 0, len(ps.sessions))
	for _, s := range ps.sessions {
		sessions = append(sessions, s)
	}
	ps.mu.Unlock()

	for _, s := range sessions {
		_ = s.Leave(ctx)
	}
}

// PlayerSession orchestrates playback for one guild. All mutable state below
// the tasks channel is owned by the loop goroutine; operations post closures
// onto the channel and the loop runs them one at a time.
type PlayerSession struct {
	guildID snowflake.ID
	sys     *PlayerSystem

	tasks  chan func()
	closed chan struct{}

	// loop-owned
	channelID snowflake.ID
	connected bool
	playing   bool
	current   *Track
	queue     []*Track
}

func (s *PlayerSession) loop() {
	for {
		select {
		case task := <-s.tasks:
			task()
		case <-s.closed:
			return
		}
	}
}

// do runs f on the loop goroutine and waits for it. Never call from inside
// the loop.
func (s *PlayerSession) do(f func()) {
	done := make(chan struct{})
	select {
	case s.tasks <- func() {
		defer close(done)
		f()
	}:
	case <-s.closed:
		return
	}
	<-done
}

// post schedules f on the loop goroutine without waiting.
func (s *PlayerSession) post(f func()) {
	select {
	case s.tasks <- f:
	case <-s.closed:
	}
}

// Play resolves the query and enqueues the result. Resolution happens on the
// caller's goroutine so a slow upstream never stalls the loop.
func (s *PlayerSession) Play(ctx context.Context, channelID snowflake.ID, query, requester string) (*Track, int, error) {
	track, err := s.sys.resolver.Resolve(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	track.Requester = requester
	position, err := s.EnqueueResolved(ctx, channelID, track)
	return track, position, err
}

// EnqueueResolved admits an already-resolved track. It always joins the back
// of the queue; if nothing is playing the queue head starts, so a queue
// retained across an empty-room stop plays out before the new arrival. The
// returned position counts the queued tracks ahead of the caller's (0 means
// it is now playing).
func (s *PlayerSession) EnqueueResolved(ctx context.Context, channelID snowflake.ID, track *Track) (int, error) {
	var position int
	var err error
	s.do(func() {
		if !s.connected {
			if err = s.sys.transport.Connect(ctx, s.guildID, channelID); err != nil {
				return
			}
			s.connected = true
			s.channelID = channelID
		}

		s.queue = append(s.queue, track)
		if !s.playing {
			if next := s.popQueue(); next != nil {
				s.startTrack(next)
			}
		}
		position = len(s.queue)
	})
	return position, err
}

// Join connects to the channel without starting playback.
func (s *PlayerSession) Join(ctx context.Context, channelID snowflake.ID) error {
	var err error
	s.do(func() {
		if s.connected && s.channelID == channelID {
			return
		}
		if err = s.sys.transport.Connect(ctx, s.guildID, channelID); err != nil {
			return
		}
		s.connected = true
		s.channelID = channelID
	})
	return err
}

// Skip stops the current track. The completion path then either advances to
// the next queued track or leaves the session idle.
func (s *PlayerSession) Skip() (*Track, error) {
	var skipped *Track
	var err error
	s.do(func() {
		if !s.playing || s.current == nil {
			err = ErrNothingPlaying
			return
		}
		skipped = s.current.Clone()
		// Killing the stream drives the normal completion path. Stopping
		// inside the loop keeps the kill bound to the snapshotted track; a
		// completion cannot advance the queue in between.
		s.sys.transport.Stop(s.guildID)
	})
	if err != nil {
		return nil, err
	}
	return skipped, nil
}

// Remove deletes the queued track at the given zero-based position. The
// current track is not addressable here; use Skip.
func (s *PlayerSession) Remove(index int) (*Track, error) {
	var removed *Track
	var err error
	s.do(func() {
		if index < 0 || index >= len(s.queue) {
			err = ErrInvalidRequest
			return
		}
		removed = s.queue[index]
		s.queue = append(s.queue[:index], s.queue[index+1:]...)
	})
	return removed, err
}

// Shuffle randomizes the pending queue. The current track keeps playing.
func (s *PlayerSession) Shuffle() int {
	var n int
	s.do(func() {
		rand.Shuffle(len(s.queue), func(i, j int) {
			s.queue[i], s.queue[j] = s.queue[j], s.queue[i]
		})
		n = len(s.queue)
	})
	return n
}

// QueueSnapshot returns a copy of the current track and pending queue.
func (s *PlayerSession) QueueSnapshot() (current *Track, queue []*Track, playing bool) {
	s.do(func() {
		if s.current != nil {
			current = s.current.Clone()
		}
		queue = cloneTracks(s.queue)
		playing = s.playing
	})
	return current, queue, playing
}

// Leave stops playback, clears the queue and disconnects.
func (s *PlayerSession) Leave(ctx context.Context) error {
	var err error
	s.do(func() {
		if !s.connected {
			err = ErrNotConnected
			return
		}
		s.reset()
		s.sys.transport.Disconnect(ctx, s.guildID)
	})
	return err
}

// handleExternalDisconnect releases state after the gateway reports the bot
// gone from voice. The transcoder is killed but no disconnect is sent; the
// connection is already dead.
func (s *PlayerSession) handleExternalDisconnect() {
	s.post(func() {
		if !s.connected {
			return
		}
		s.reset()
		s.sys.transport.Stop(s.guildID)
	})
}

// reset clears all playback state. Loop-owned; callers hold the loop.
func (s *PlayerSession) reset() {
	s.connected = false
	s.playing = false
	s.current = nil
	s.channelID = 0
	s.queue = nil
}

// startTrack begins transport playback of the track, falling through the
// queue when a start fails outright. Loop-owned.
func (s *PlayerSession) startTrack(track *Track) {
	for track != nil {
		track.StartedAt = time.Now()
		s.current = track
		s.playing = true

		err := s.sys.transport.Start(sys.AppContext, s.guildID, track, s.makeOnEnd(track))
		if err == nil {
			sys.LogVoice("Now playing in guild %s: %s", s.guildID, track.DisplayTitle())
			s.recordPlay(track)
			return
		}

		sys.LogVoice("Failed to start %s: %v", track.DisplayTitle(), err)
		s.current = nil
		s.playing = false
		track = s.popQueue()
	}
}

// popQueue removes and returns the head of the queue, or nil. Loop-owned.
func (s *PlayerSession) popQueue() *Track {
	if len(s.queue) == 0 {
		return nil
	}
	t := s.queue[0]
	s.queue = s.queue[1:]
	return t
}

// makeOnEnd builds the completion callback for one started track. It runs on
// the transport's goroutine, waits out the settle delay, then hands the
// decision to the loop.
func (s *PlayerSession) makeOnEnd(track *Track) func() {
	return func() {
		if s.sys.settleDelay > 0 {
			time.Sleep(s.sys.settleDelay)
		}
		s.post(func() { s.handleTrackEnd(track) })
	}
}

// handleTrackEnd decides what happens after a track stops. Loop-owned.
// Ordering matters: an empty room wins over a pending queue, and only then
// does the end-cause heuristic decide whether to stay connected.
func (s *PlayerSession) handleTrackEnd(track *Track) {
	// A completion raced with a leave, skip-restart or external disconnect.
	if s.current != track {
		return
	}
	s.current = nil
	s.playing = false

	if s.connected && s.sys.transport.HumanCount(s.guildID, s.channelID) == 0 {
		sys.LogVoice("Nobody listening in guild %s, disconnecting", s.guildID)
		s.connected = false
		s.channelID = 0
		s.sys.transport.Disconnect(sys.AppContext, s.guildID)
		return
	}

	if next := s.popQueue(); next != nil {
		s.startTrack(next)
		return
	}

	if s.endedNormally(track) {
		sys.LogVoice("Queue drained in guild %s, disconnecting", s.guildID)
		s.connected = false
		s.channelID = 0
		s.sys.transport.Disconnect(sys.AppContext, s.guildID)
		return
	}
	// Abnormal end with listeners present: hold the connection so a retry
	// does not pay the join cost again.
	sys.LogVoice("Track ended early in guild %s, holding connection", s.guildID)
}

// endedNormally classifies a completion by comparing play time against the
// reported duration. Unknown durations count as abnormal.
func (s *PlayerSession) endedNormally(track *Track) bool {
	if track.Duration <= 0 || track.StartedAt.IsZero() {
		return false
	}
	ratio := s.sys.cfg.NormalEndRatio
	return time.Since(track.StartedAt) >= time.Duration(float64(track.Duration)*ratio)
}

// recordPlay persists the started track to play history. Best effort.
func (s *PlayerSession) recordPlay(track *Track) {
	if sys.DB == nil {
		return
	}
	guildID := s.guildID.String()
	rec := &sys.PlayRecord{Title: track.DisplayTitle(), URL: track.URL, Requester: track.Requester}
	sys.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sys.AddPlayRecord(ctx, guildID, rec); err != nil {
			sys.LogDatabase("Failed to record play: %v", err)
		}
	})
}
