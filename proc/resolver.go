package proc

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ingkoon/sing-bot/sys"
)

var youtubeURLRegex = regexp.MustCompile(`^(https?://)?(www\.|music\.)?(youtube\.com|youtu\.be)/.+`)

const (
	// profileTimeout bounds a single access-profile attempt before the
	// resolver falls through to the next profile.
	profileTimeout = 20 * time.Second

	// searchCacheTTL is how long keyword search candidate lists are memoized.
	// Resolved tracks live in a separate cache with no TTL.
	searchCacheTTL = 1 * time.Hour
)

// accessProfile is one upstream request identity. Profiles are tried in order;
// the first success wins.
type accessProfile struct {
	name   string
	lookup func(ctx context.Context, query string, n int) ([]*Track, error)
}

type searchEntry struct {
	candidates []*Track
	expiresAt  time.Time
}

// Resolver turns a query or URL into playable track metadata. Results are
// cached by the raw query string: two different queries that resolve to the
// same underlying media do NOT share a cache entry.
type Resolver struct {
	mu    sync.RWMutex
	cache map[string]*Track // raw query -> track; process lifetime, never evicted

	searchMu sync.RWMutex
	searches map[string]searchEntry

	streamProfiles []accessProfile
	searchProfiles []accessProfile
	limiter        *rate.Limiter
}

func NewResolver(cfg *sys.Config) *Resolver {
	r := &Resolver{
		cache:    make(map[string]*Track),
		searches: make(map[string]searchEntry),
		limiter:  rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
	}
	r.streamProfiles = streamProfiles(cfg)
	r.searchProfiles = searchProfiles(cfg)
	return r
}

// IsDirectURL reports whether the query should be treated as a direct media
// link rather than keyword search terms.
func IsDirectURL(query string) bool {
	return youtubeURLRegex.MatchString(query)
}

// Resolve turns a query or URL into a single playable track. The cache is
// checked before any upstream call; failures are never cached.
func (r *Resolver) Resolve(ctx context.Context, query string) (*Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidRequest
	}

	r.mu.RLock()
	if cached, ok := r.cache[query]; ok {
		r.mu.RUnlock()
		return cached.Clone(), nil
	}
	r.mu.RUnlock()

	var track *Track
	if IsDirectURL(query) {
		results, err := r.tryInOrder(ctx, r.streamProfiles, query, 1)
		if err != nil {
			return nil, err
		}
		track = results[0]
	} else {
		candidates, err := r.tryInOrder(ctx, r.searchProfiles, query, 1)
		if err != nil {
			return nil, err
		}
		chosen := candidates[0]
		results, err := r.tryInOrder(ctx, r.streamProfiles, chosen.URL, 1)
		if err != nil {
			return nil, err
		}
		track = results[0]
		// Search metadata is usually richer than what the stream profiles
		// report; keep it when present.
		if chosen.Title != "" {
			track.Title = chosen.Title
		}
		if chosen.Channel != "" {
			track.Channel = chosen.Channel
		}
		if track.Duration == 0 {
			track.Duration = chosen.Duration
		}
	}

	// Concurrent resolutions of the same key both computed the same value;
	// last write wins.
	r.mu.Lock()
	r.cache[query] = track.Clone()
	r.mu.Unlock()

	sys.LogResolver("Resolved %q -> %s", query, track.DisplayTitle())
	return track, nil
}

// ResolveTop returns the top n ranked search candidates for a keyword query.
// Candidates carry no stream locator guarantee; they must be re-verified via
// Resolve before playback.
func (r *Resolver) ResolveTop(ctx context.Context, query string, n int) ([]*Track, error) {
	query = strings.TrimSpace(query)
	if query == "" || n <= 0 {
		return nil, ErrInvalidRequest
	}

	r.searchMu.RLock()
	if entry, ok := r.searches[query]; ok && time.Now().Before(entry.expiresAt) && len(entry.candidates) >= n {
		out := cloneTracks(entry.candidates[:n])
		r.searchMu.RUnlock()
		return out, nil
	}
	r.searchMu.RUnlock()

	candidates, err := r.tryInOrder(ctx, r.searchProfiles, query, n)
	if err != nil {
		return nil, err
	}
	if len(candidates) > n {
		candidates = candidates[:n]
	}

	r.searchMu.Lock()
	r.searches[query] = searchEntry{candidates: cloneTracks(candidates), expiresAt: time.Now().Add(searchCacheTTL)}
	r.searchMu.Unlock()

	return candidates, nil
}

// tryInOrder runs the same logical request under each profile in order and
// returns the first success. If every profile fails, the LAST failure is
// surfaced with its cause preserved.
func (r *Resolver) tryInOrder(ctx context.Context, profiles []accessProfile, query string, n int) ([]*Track, error) {
	if len(profiles) == 0 {
		return nil, errors.New("no access profiles configured")
	}
	var lastErr *ResolutionError
	for _, p := range profiles {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, profileTimeout)
		results, err := p.lookup(attemptCtx, query, n)
		cancel()

		if err == nil && len(results) == 0 {
			err = errors.New("no results")
		}
		if err == nil {
			return results, nil
		}

		sys.LogResolver("Profile %s failed for %q: %v", p.name, query, err)
		lastErr = &ResolutionError{Profile: p.name, Err: err}

		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func cloneTracks(tracks []*Track) []*Track {
	out := make([]*Track, len(tracks))
	for i, t := range tracks {
		out[i] = t.Clone()
	}
	return out
}
