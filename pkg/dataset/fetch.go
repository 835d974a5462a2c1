package dataset

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/talkbase/talkbase/internal/models"
	"github.com/talkbase/talkbase/internal/types"
	"golang.org/x/time/rate"
)

// FetcherConfig controls the talk-page fetcher.
type FetcherConfig struct {
	RateLimit  float64 // requests per second
	Timeout    time.Duration
	UserAgent  string
	OnProgress func(url string)
	Logger     zerolog.Logger
}

// Fetcher downloads talk pages and extracts their transcripts. Requests are
// rate limited so a large URL list does not hammer the host.
type Fetcher struct {
	config  FetcherConfig
	client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewFetcher builds a Fetcher, filling config defaults.
func NewFetcher(config FetcherConfig) *Fetcher {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if config.UserAgent == "" {
		config.UserAgent = "talkbase/1.0"
	}
	return &Fetcher{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		log:     config.Logger.With().Str("component", "fetcher").Logger(),
	}
}

// Fetch downloads one talk page and extracts its transcript and metadata.
// The talk ID is derived from the last URL path segment.
func (f *Fetcher) Fetch(ctx context.Context, talkURL string) (models.Talk, error) {
	parsed, err := url.Parse(talkURL)
	if err != nil || !parsed.IsAbs() {
		return models.Talk{}, &types.InvalidInputError{
			Field:   "url",
			Message: fmt.Sprintf("not an absolute URL: %q", talkURL),
		}
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return models.Talk{}, fmt.Errorf("fetch %s: %w", talkURL, err)
	}
	if f.config.OnProgress != nil {
		f.config.OnProgress(talkURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, talkURL, nil)
	if err != nil {
		return models.Talk{}, err
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return models.Talk{}, fmt.Errorf("fetch %s: %w", talkURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Talk{}, fmt.Errorf("fetch %s: status %d", talkURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return models.Talk{}, fmt.Errorf("parse %s: %w", talkURL, err)
	}

	talk := models.Talk{
		ID:         talkIDFromURL(parsed),
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		Speaker:    extractSpeaker(doc),
		Transcript: extractTranscript(doc),
		URL:        talkURL,
	}
	if talk.Transcript == "" {
		return models.Talk{}, fmt.Errorf("fetch %s: no transcript content found", talkURL)
	}

	f.log.Debug().Str("talk", talk.ID).Int("bytes", len(talk.Transcript)).Msg("fetched talk")
	return talk, nil
}

// FetchAll downloads the given talk pages, recording per-URL failures
// instead of aborting the batch.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) ([]models.Talk, []models.TalkFailure) {
	var talks []models.Talk
	var failures []models.TalkFailure

	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			failures = append(failures, models.TalkFailure{TalkID: u, Reason: err.Error()})
			continue
		}
		talk, err := f.Fetch(ctx, u)
		if err != nil {
			f.log.Warn().Err(err).Str("url", u).Msg("fetch failed")
			failures = append(failures, models.TalkFailure{TalkID: u, Reason: err.Error()})
			continue
		}
		talks = append(talks, talk)
	}
	return talks, failures
}

func talkIDFromURL(u *url.URL) string {
	id := strings.Trim(path.Base(u.Path), "/")
	if id == "" || id == "." {
		return u.Host
	}
	return id
}

func extractSpeaker(doc *goquery.Document) string {
	if author, ok := doc.Find(`meta[name="author"]`).Attr("content"); ok {
		return strings.TrimSpace(author)
	}
	return strings.TrimSpace(doc.Find(".speaker, .author").First().Text())
}

// extractTranscript prefers an explicit transcript container, then the
// usual main-content areas, then the whole body.
func extractTranscript(doc *goquery.Document) string {
	selectors := []string{
		".transcript",
		"#transcript",
		"main",
		"article",
		".content",
		"#content",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}
	if content == "" {
		content = doc.Find("body").Text()
	}

	// Collapse markup whitespace into single spaces.
	return strings.Join(strings.Fields(content), " ")
}
