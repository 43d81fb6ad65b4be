package proc

import "time"

// Track is one resolved, playable media item. The resolver fills in the
// locators and upstream metadata; the orchestrator stamps StartedAt when the
// track actually begins playing.
type Track struct {
	URL       string // canonical page URL (watch page, not the media stream)
	StreamURL string // direct media stream locator; may be empty on search candidates
	Title     string
	Channel   string
	Duration  time.Duration // upstream-reported; 0 when unknown
	Requester string
	StartedAt time.Time
}

// Clone returns a copy so per-request fields (Requester, StartedAt) never leak
// into the resolver cache.
func (t *Track) Clone() *Track {
	c := *t
	return &c
}

func (t *Track) DisplayTitle() string {
	if t.Title != "" {
		return t.Title
	}
	return t.URL
}
