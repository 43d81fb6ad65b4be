package proc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"

	"github.com/ingkoon/sing-bot/sys"
)

// streamProfiles returns the ordered chain for turning a page URL into a
// direct stream locator. Cheapest first: the native extractor needs no
// subprocess, the yt-dlp profiles differ only in the player identity they
// present upstream.
func streamProfiles(cfg *sys.Config) []accessProfile {
	return []accessProfile{
		{name: "native", lookup: nativeStreamLookup},
		{name: "ytdlp-web", lookup: ytdlpStreamLookup(cfg, "web", false)},
		{name: "ytdlp-android", lookup: ytdlpStreamLookup(cfg, "android", true)},
	}
}

// searchProfiles returns the ordered chain for keyword search. The music
// index tends to rank songs better, so it goes first.
func searchProfiles(cfg *sys.Config) []accessProfile {
	return []accessProfile{
		{name: "ytmusic", lookup: ytmusicSearchLookup},
		{name: "ytsearch", lookup: ytsearchLookup},
		{name: "ytdlp-search", lookup: ytdlpSearchLookup(cfg)},
	}
}

// ===========================
// Native extractor
// ===========================

func nativeStreamLookup(ctx context.Context, pageURL string, _ int) ([]*Track, error) {
	client := youtube.Client{}
	video, err := client.GetVideoContext(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	formats := video.Formats.WithAudioChannels()
	formats = formats.Type("audio")

	var bestFormat *youtube.Format
	// ITAG 251 is Opus 160kbps, passthrough capable
	for i, f := range formats {
		if f.ItagNo == 251 {
			bestFormat = &formats[i]
			break
		}
	}
	if bestFormat == nil {
		for i, f := range formats {
			if strings.Contains(f.MimeType, "opus") {
				bestFormat = &formats[i]
				break
			}
		}
	}
	if bestFormat == nil && len(formats) > 0 {
		formats.Sort()
		bestFormat = &formats[0]
	}
	if bestFormat == nil {
		return nil, fmt.Errorf("no audio formats for %s", pageURL)
	}

	streamURL, err := client.GetStreamURLContext(ctx, video, bestFormat)
	if err != nil {
		return nil, err
	}

	return []*Track{{
		URL:       pageURL,
		StreamURL: streamURL,
		Title:     video.Title,
		Channel:   video.Author,
		Duration:  video.Duration,
	}}, nil
}

// ===========================
// yt-dlp
// ===========================

func newYtdlp(cfg *sys.Config) *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings()

	if cfg.ProxyURL != "" {
		cmd.Proxy(cfg.ProxyURL)
	}

	return cmd
}

// buildYtdlpArgs returns common args for yt-dlp commands under the given
// player identity.
func buildYtdlpArgs(playerClient string) []string {
	return []string{
		"--no-playlist",
		"--no-check-certificates",
		"--no-warnings",
		"--extractor-args", "youtube:player_client=" + playerClient,
		"--prefer-free-formats",
		"--socket-timeout", "30",
		"--retries", "3",
	}
}

func ytdlpStreamLookup(cfg *sys.Config, playerClient string, useCookies bool) func(context.Context, string, int) ([]*Track, error) {
	return func(ctx context.Context, pageURL string, _ int) ([]*Track, error) {
		// The music subdomain confuses some extractors; the watch page is
		// the same video either way.
		pageURL = strings.Replace(pageURL, "music.youtube.com", "www.youtube.com", 1)

		cmd := newYtdlp(cfg)
		if useCookies && cfg.CookiesFile != "" {
			cmd.Cookies(cfg.CookiesFile)
		}

		args := buildYtdlpArgs(playerClient)
		res, err := cmd.
			Format("bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best").
			Print("%(url)s\t%(title)s\t%(uploader)s\t%(duration)s").
			NoWarnings().
			IgnoreConfig().
			Run(ctx, append(args, "--skip-download", pageURL)...)
		if err != nil {
			return nil, err
		}

		for _, l := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
			ps := strings.Split(l, "\t")
			if len(ps) < 4 || ps[0] == "" {
				continue
			}
			d, _ := time.ParseDuration(ps[3] + "s")
			return []*Track{{
				URL:       pageURL,
				StreamURL: ps[0],
				Title:     ps[1],
				Channel:   ps[2],
				Duration:  d,
			}}, nil
		}
		return nil, fmt.Errorf("no stream reported for %s", pageURL)
	}
}

func ytdlpSearchLookup(cfg *sys.Config) func(context.Context, string, int) ([]*Track, error) {
	return func(ctx context.Context, q string, n int) ([]*Track, error) {
		cmd := newYtdlp(cfg)

		args := buildYtdlpArgs("web")
		res, err := cmd.
			FlatPlaylist().
			Print("%(url)s\t%(title)s\t%(uploader)s\t%(duration)s").
			PlaylistItems(fmt.Sprintf("1-%d", n)).
			NoWarnings().
			IgnoreConfig().
			Run(ctx, append(args, fmt.Sprintf("ytsearch%d:%s", n, q))...)
		if err != nil {
			return nil, err
		}

		ls := strings.Split(strings.TrimSpace(res.Stdout), "\n")
		tracks := make([]*Track, 0, len(ls))
		for _, l := range ls {
			ps := strings.Split(l, "\t")
			if len(ps) < 4 || ps[1] == "" || ps[1] == "NA" {
				continue
			}
			d, _ := time.ParseDuration(ps[3] + "s")
			tracks = append(tracks, &Track{URL: ps[0], Title: ps[1], Channel: ps[2], Duration: d})
		}
		return tracks, nil
	}
}

// ===========================
// Search indexes
// ===========================

func ytmusicSearchLookup(_ context.Context, q string, _ int) ([]*Track, error) {
	s := ytmusic.TrackSearch(q)
	r, err := s.Next()
	if err != nil {
		return nil, err
	}

	var tracks []*Track
	for _, v := range r.Tracks {
		if v.VideoID == "" {
			continue
		}
		channel := ""
		if len(v.Artists) > 0 {
			channel = v.Artists[0].Name
		}
		tracks = append(tracks, &Track{
			URL:     "https://music.youtube.com/watch?v=" + v.VideoID,
			Title:   v.Title,
			Channel: channel,
		})
	}
	return tracks, nil
}

func ytsearchLookup(ctx context.Context, q string, _ int) ([]*Track, error) {
	c := ytsearch.NewClient(nil)
	r, err := c.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	var tracks []*Track
	for _, v := range r.Results {
		if v.VideoID == "" {
			continue
		}
		tracks = append(tracks, &Track{
			URL:   "https://www.youtube.com/watch?v=" + v.VideoID,
			Title: v.Title,
		})
	}
	return tracks, nil
}
