package proc

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingkoon/sing-bot/sys"
)

const (
	testGuild   = snowflake.ID(100)
	testChannel = snowflake.ID(200)
)

// fakeTransport records calls and lets tests drive stream completions by hand.
type fakeTransport struct {
	mu          sync.Mutex
	humans      int
	connects    int
	disconnects int
	stops       int
	failStarts  int
	attempts    []string
	started     []string
	events      []string
	onEnd       func()
}

func (f *fakeTransport) Connect(ctx context.Context, guildID, channelID snowflake.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil
}

func (f *fakeTransport) Disconnect(ctx context.Context, guildID snowflake.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeTransport) Start(ctx context.Context, guildID snowflake.ID, track *Track, onEnd func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, track.Title)
	if f.failStarts > 0 {
		f.failStarts--
		return errors.New("transcoder refused to start")
	}
	f.started = append(f.started, track.Title)
	f.events = append(f.events, "start")
	f.onEnd = onEnd
	return nil
}

func (f *fakeTransport) Stop(guildID snowflake.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeTransport) HumanCount(guildID, channelID snowflake.ID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.humans
}

// endCurrent simulates the active stream finishing.
func (f *fakeTransport) endCurrent() {
	f.mu.Lock()
	onEnd := f.onEnd
	f.onEnd = nil
	if onEnd != nil {
		f.events = append(f.events, "end")
	}
	f.mu.Unlock()
	if onEnd != nil {
		onEnd()
	}
}

func (f *fakeTransport) eventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.events...)
}

func (f *fakeTransport) counts() (connects, disconnects, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects, f.stops
}

func newTestPlayer(humans int) (*PlayerSystem, *fakeTransport) {
	ft := &fakeTransport{humans: humans}
	ps := NewPlayerSystem(ft, nil, &sys.Config{NormalEndRatio: 0.8})
	ps.settleDelay = 0
	return ps, ft
}

func testTrack(title string, d time.Duration) *Track {
	return &Track{
		URL:       "https://www.youtube.com/watch?v=" + title,
		StreamURL: "https://cdn/" + title,
		Title:     title,
		Duration:  d,
	}
}

// barrier waits for all queued loop tasks, including completions posted by
// endCurrent, to finish.
func barrier(s *PlayerSession) {
	s.do(func() {})
}

func enqueue(t *testing.T, s *PlayerSession, track *Track) int {
	t.Helper()
	position, err := s.EnqueueResolved(context.Background(), testChannel, track)
	require.NoError(t, err)
	return position
}

func TestEnqueueStartsWhenIdle(t *testing.T) {
	ps, ft := newTestPlayer(1)
	s := ps.Session(testGuild)

	position := enqueue(t, s, testTrack("a", 3*time.Minute))

	assert.Equal(t, 0, position)
	current, queue, playing := s.QueueSnapshot()
	require.NotNil(t, current)
	assert.Equal(t, "a", current.Title)
	assert.True(t, playing)
	assert.Empty(t, queue)
	assert.Equal(t, []string{"a"}, ft.started)
}

func TestEnqueueWhilePlayingNeverStartsTransport(t *testing.T) {
	ps, ft := newTestPlayer(1)
	s := ps.Session(testGuild)

	enqueue(t, s, testTrack("a", 3*time.Minute))
	positionB := enqueue(t, s, testTrack("b", 3*time.Minute))
	positionC := enqueue(t, s, testTrack("c", 3*time.Minute))

	assert.Equal(t, 1, positionB)
	assert.Equal(t, 2, positionC)
	assert.Equal(t, []string{"a"}, ft.started, "queued tracks must not start the transport")

	_, queue, _ := s.QueueSnapshot()
	require.Len(t, queue, 2)
	assert.Equal(t, "b", queue[0].Title)
	assert.Equal(t, "c", queue[1].Title)
}

func TestCompletionAdvancesQueue(t *testing.T) {
	ps, ft := newTestPlayer(1)
	s := ps.Session(testGuild)

	enqueue(t, s, testTrack("a", 3*time.Minute))
	enqueue(t, s, testTrack("b", 3*time.Minute))

	ft.endCurrent()
	barrier(s)

	current, queue, playing := s.QueueSnapshot()
	require.NotNil(t, current)
	assert.Equal(t, "b", current.Title)
	assert.True(t, playing)
	assert.Empty(t, queue)
	assert.Equal(t, []string{"a", "b"}, ft.started)
}

func TestEmptyRoomBeatsPendingQueue(t *testing.T) {
	ps, ft := newTestPlayer(1)
	s := ps.Session(testGuild)

	enqueue(t, s, testTrack("a", 3*time.Minute))
	enqueue(t, s, testTrack("b", 3*time.Minute))

	ft.mu.Lock()
	ft.humans = 0
	ft.mu.Unlock()

	ft.endCurrent()
	barrier(s)

	_, disconnects, _ := ft.counts()
	assert.Equal(t, 1, disconnects, "empty room must disconnect even with tracks queued")
	assert.Equal(t, []string{"a"}, ft.started, "queued track must not start into an empty room")

	current, queue, playing := s.QueueSnapshot()
	assert.Nil(t, current)
	assert.False(t, playing)
	require.Len(t, queue, 1, "the queue survives an empty-room stop")
	assert.Equal(t, "b", queue[0].Title)
}

func TestEnqueueWhileIdleStartsRetainedQueueHead(t *testing.T) {
	ps, ft := newTestPlayer(1)
	s := ps.Session(testGuild)

	enqueue(t, s, testTrack("a", 3*time.Minute))
	enqueue(t, s, testTrack("b", 3*time.Minute))

	// The room empties mid-track; the stop keeps b queued.
	ft.mu.Lock()
	ft.humans = 0
	ft.mu.Unlock()
	ft.endCurrent()
	barrier(s)

	// A listener comes back and asks for c. The retained head plays first.
	ft.mu.Lock()
	ft.humans = 1
	ft.mu.Unlock()

	position := enqueue(t, s, testTrack("c", 3*time.Minute))
	assert.Equal(t, 1, position)

	current, queue, playing := s.QueueSnapshot()
	require.NotNil(t, current)
	assert.Equal(t, "b", current.Title, "the retained queue head starts, not the new arrival")
	assert.True(t, playing)
	require.Len(t, queue, 1)
	assert.Equal(t, "c", queue[0].Title)
	assert.Equal(t, []string{"a", "b"}, ft.started)

	connects, _, _ := ft.counts()
	assert.Equal(t, 2, connects, "the session reconnects for the new request")
}

func TestNormalEndDisconnects(t *testing.T) {
	ps, ft := newTestPlayer(1)
	s := ps.Session(testGuild)

	enqueue(t, s, testTrack("a", 200*time.Second))
	s.do(func() {
		s.current.StartedAt = time.Now().Add(-180 * time.Second)
	})

	ft.endCurrent()
	barrier(s)

	_, disconnects, _ := ft.counts()
	assert.Equal(t, 1, disconnects, "a track that ran its course should release the channel")
}

func TestEarlyEndHoldsConnection(t *testing.T) {
	ps, ft := newTestPlayer(1)
	s := ps.Session(testGuild)

	enqueue(t, s, testTrack("a", 200*time.Second))
	s.do(func() {
		s.current.StartedAt = time.Now().Add(-40 * time.Second)
	})

	ft.endCurrent()
	barrier(s)

	_, disconnects, _ := ft.counts()
	assert.Equal(t, 0, disconnects, "an early death should keep the connection for a retry")

	current, _, playing := s.QueueSnapshot()
	assert.Nil(t, current)
	assert.False(t, playing)
}

func TestUnknownDurationCountsAsEarlyEnd(t *testing.T) {
	ps, ft := newTestPlayer(1)
	s := ps.Session(testGuild)

	enqueue(t, s, testTrack("a", 0))
	s.do(func() {
		s.current.StartedAt = time.Now().Add(-time.Hour)
	})

	ft.endCurrent()
	barrier(s)

	_, disconnects, _ := ft.counts()
	assert.Equal(t, 0, disconnects)
}

func TestSkipNothingPlaying(t *testing.T) {
	ps, _ := newTestPlayer(1)
	s := ps.Session(testGuild)

	_, err := s.Skip()
	assert.ErrorIs(t, err, ErrNothingPlaying)
}

func TestSkipStopsCurrentAndAdvances(t *testing.T) {
	ps, ft := newTestPlayer(1)
	s := ps.Session(testGuild)

	enqueue(t, s, testTrack("a", 3*time.Minute))
	enqueue(t, s, testTrack("b", 3*time.Minute))

	skipped, err := s.Skip()
	require.NoError(t, err)
	assert.Equal(t, "a", skipped.Title)

	_, _, stops := ft.counts()
	assert.Equal(t, 1, stops)

	// The killed stream reports completion like any other end.
	ft.endCurrent()
	barrier(s)

	current, _, _ := s.QueueSnapshot()
	require.NotNil(t, current)
	assert.Equal(t, "b", current.Title)
}

func TestSkipTargetsTrackCurrentAtStopTime(t *testing.T) {
	ps, ft := newTestPlayer(1)
	s := ps.Session(testGuild)

	enqueue(t, s, testTrack("a", 3*time.Minute))
	enqueue(t, s, testTrack("b", 3*time.Minute))

	// a's completion is already queued on the loop when the skip arrives, so
	// the skip must land on b, the track actually playing when the stop runs.
	ft.endCurrent()
	skipped, err := s.Skip()
	require.NoError(t, err)
	assert.Equal(t, "b", skipped.Title)

	_, _, stops := ft.counts()
	assert.Equal(t, 1, stops)

	ft.endCurrent()
	barrier(s)
	current, _, playing := s.QueueSnapshot()
	assert.Nil(t, current)
	assert.False(t, playing)
}

func TestRemoveTargetsQueueOnly(t *testing.T) {
	ps, _ := newTestPlayer(1)
	s := ps.Session(testGuild)

	enqueue(t, s, testTrack("a", 3*time.Minute))
	enqueue(t, s, testTrack("b", 3*time.Minute))
	enqueue(t, s, testTrack("c", 3*time.Minute))

	removed, err := s.Remove(0)
	require.NoError(t, err)
	assert.Equal(t, "b", removed.Title, "index addresses the queue, not the current track")

	current, queue, _ := s.QueueSnapshot()
	assert.Equal(t, "a", current.Title)
	require.Len(t, queue, 1)
	assert.Equal(t, "c", queue[0].Title)
}

func TestRemoveOutOfRange(t *testing.T) {
	ps, _ := newTestPlayer(1)
	s := ps.Session(testGuild)

	enqueue(t, s, testTrack("a", 3*time.Minute))

	_, err := s.Remove(0)
	assert.ErrorIs(t, err, ErrInvalidRequest, "current track is not removable")
	_, err = s.Remove(-1)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestShufflePreservesQueueContents(t *testing.T) {
	ps, _ := newTestPlayer(1)
	s := ps.Session(testGuild)

	enqueue(t, s, testTrack("a", 3*time.Minute))
	titles := []string{"b", "c", "d", "e"}
	for _, title := range titles {
		enqueue(t, s, testTrack(title, 3*time.Minute))
	}

	n := s.Shuffle()
	assert.Equal(t, len(titles), n)

	current, queue, _ := s.QueueSnapshot()
	assert.Equal(t, "a", current.Title, "shuffle must not touch the current track")

	var got []string
	for _, tr := range queue {
		got = append(got, tr.Title)
	}
	sort.Strings(got)
	assert.Equal(t, titles, got, "shuffle must not add or drop tracks")
}

func TestLeaveClearsEverything(t *testing.T) {
	ps, ft := newTestPlayer(1)
	s := ps.Session(testGuild)

	enqueue(t, s, testTrack("a", 3*time.Minute))
	enqueue(t, s, testTrack("b", 3*time.Minute))

	require.NoError(t, s.Leave(context.Background()))

	_, disconnects, _ := ft.counts()
	assert.Equal(t, 1, disconnects)

	current, queue, playing := s.QueueSnapshot()
	assert.Nil(t, current)
	assert.Empty(t, queue)
	assert.False(t, playing)

	assert.ErrorIs(t, s.Leave(context.Background()), ErrNotConnected)
}

func TestStaleCompletionIgnoredAfterLeave(t *testing.T) {
	ps, ft := newTestPlayer(1)
	s := ps.Session(testGuild)

	enqueue(t, s, testTrack("a", 3*time.Minute))
	enqueue(t, s, testTrack("b", 3*time.Minute))

	require.NoError(t, s.Leave(context.Background()))

	// The stream the leave killed still reports its completion.
	ft.endCurrent()
	barrier(s)

	assert.Equal(t, []string{"a"}, ft.started, "a stale completion must not restart playback")
	_, disconnects, _ := ft.counts()
	assert.Equal(t, 1, disconnects)
}

func TestStartFailureFallsThroughQueue(t *testing.T) {
	ps, ft := newTestPlayer(1)
	s := ps.Session(testGuild)

	enqueue(t, s, testTrack("a", 3*time.Minute))
	enqueue(t, s, testTrack("b", 3*time.Minute))
	enqueue(t, s, testTrack("c", 3*time.Minute))

	ft.mu.Lock()
	ft.failStarts = 1
	ft.mu.Unlock()

	ft.endCurrent()
	barrier(s)

	assert.Equal(t, []string{"a", "b", "c"}, ft.attempts)
	assert.Equal(t, []string{"a", "c"}, ft.started, "a dead start skips straight to the next track")

	current, queue, _ := s.QueueSnapshot()
	require.NotNil(t, current)
	assert.Equal(t, "c", current.Title)
	assert.Empty(t, queue)
}

func TestExternalDisconnectReleasesState(t *testing.T) {
	ps, ft := newTestPlayer(1)
	s := ps.Session(testGuild)

	enqueue(t, s, testTrack("a", 3*time.Minute))

	s.handleExternalDisconnect()
	barrier(s)

	current, queue, playing := s.QueueSnapshot()
	assert.Nil(t, current)
	assert.Empty(t, queue)
	assert.False(t, playing)

	_, disconnects, stops := ft.counts()
	assert.Equal(t, 0, disconnects, "the connection is already gone; no disconnect call")
	assert.Equal(t, 1, stops)
}

func TestSessionStoreIdempotent(t *testing.T) {
	ps, _ := newTestPlayer(1)

	first := ps.Session(testGuild)
	second := ps.Session(testGuild)
	assert.Same(t, first, second)

	assert.Nil(t, ps.SessionIfExists(snowflake.ID(999)))
	assert.Same(t, first, ps.SessionIfExists(testGuild))
}

func TestSessionsAreIndependentPerGuild(t *testing.T) {
	ps, ft := newTestPlayer(1)
	a := ps.Session(snowflake.ID(1))
	b := ps.Session(snowflake.ID(2))

	_, err := a.EnqueueResolved(context.Background(), testChannel, testTrack("a", time.Minute))
	require.NoError(t, err)

	_, _, playing := b.QueueSnapshot()
	assert.False(t, playing)
	assert.Equal(t, []string{"a"}, ft.started)
}

// Hammers one session with concurrent enqueues, skips and completions, then
// checks the transport saw starts and completions in strict alternation. At
// most one stream may ever be in flight regardless of interleaving.
func TestRandomizedInterleavingKeepsSingleFlight(t *testing.T) {
	ps, ft := newTestPlayer(1)
	s := ps.Session(testGuild)

	const workers = 4
	const opsPerWorker = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < opsPerWorker; i++ {
				switch rng.Intn(3) {
				case 0:
					track := testTrack(fmt.Sprintf("t%d-%d", seed, i), 0)
					_, _ = s.EnqueueResolved(context.Background(), testChannel, track)
				case 1:
					_, _ = s.Skip()
				case 2:
					ft.endCurrent()
				}
			}
		}(int64(w + 1))
	}
	wg.Wait()

	// Play out whatever is left so every start has its completion.
	for {
		barrier(s)
		_, _, playing := s.QueueSnapshot()
		if !playing {
			break
		}
		ft.endCurrent()
	}

	events := ft.eventLog()
	require.NotEmpty(t, events)
	require.Equal(t, 0, len(events)%2, "every start must be matched by a completion")
	for i, ev := range events {
		want := "start"
		if i%2 == 1 {
			want = "end"
		}
		require.Equalf(t, want, ev, "event %d out of order: %v", i, events)
	}
}
