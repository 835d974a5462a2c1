package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/talkbase/talkbase/internal/models"
	"github.com/talkbase/talkbase/internal/types"
)

// Column names recognized in corpus CSV headers. The first matching alias
// wins, so exports from different corpus dumps load without preprocessing.
var columnAliases = map[string][]string{
	"id":           {"id", "talk_id"},
	"title":        {"title", "name"},
	"speaker":      {"speaker", "main_speaker"},
	"transcript":   {"transcript", "text", "content"},
	"url":          {"url", "link"},
	"views":        {"views"},
	"published_at": {"published_at", "published_date", "film_date"},
	"topics":       {"topics", "tags"},
}

// LoadCSV reads a talk corpus from a headered CSV file. Only id, title and
// transcript are required; the remaining metadata columns are optional.
func LoadCSV(path string) ([]models.Talk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses a talk corpus from CSV content.
func ReadCSV(r io.Reader) ([]models.Talk, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read corpus header: %w", err)
	}

	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var talks []models.Talk
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read corpus line %d: %w", line, err)
		}

		talk, err := recordToTalk(record, cols)
		if err != nil {
			return nil, fmt.Errorf("corpus line %d: %w", line, err)
		}
		talks = append(talks, talk)
	}
	return talks, nil
}

func mapColumns(header []string) (map[string]int, error) {
	byName := make(map[string]int, len(header))
	for i, name := range header {
		byName[strings.ToLower(strings.TrimSpace(name))] = i
	}

	cols := make(map[string]int)
	for field, aliases := range columnAliases {
		for _, alias := range aliases {
			if i, ok := byName[alias]; ok {
				cols[field] = i
				break
			}
		}
	}

	for _, required := range []string{"id", "title", "transcript"} {
		if _, ok := cols[required]; !ok {
			return nil, &types.InvalidInputError{
				Field:   "corpus",
				Message: fmt.Sprintf("missing required column %q", required),
			}
		}
	}
	return cols, nil
}

func recordToTalk(record []string, cols map[string]int) (models.Talk, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	talk := models.Talk{
		ID:         field("id"),
		Title:      field("title"),
		Speaker:    field("speaker"),
		Transcript: field("transcript"),
		URL:        field("url"),
	}
	if talk.ID == "" {
		return models.Talk{}, &types.InvalidInputError{Field: "id", Message: "talk id must not be empty"}
	}

	if v := field("views"); v != "" {
		views, err := strconv.Atoi(v)
		if err != nil {
			return models.Talk{}, fmt.Errorf("views %q: %w", v, err)
		}
		talk.Views = views
	}
	if v := field("published_at"); v != "" {
		ts, err := parseTimestamp(v)
		if err != nil {
			return models.Talk{}, err
		}
		talk.PublishedAt = ts
	}
	if v := field("topics"); v != "" {
		talk.Topics = splitTopics(v)
	}
	return talk, nil
}

// parseTimestamp accepts RFC 3339, a bare date, or a unix epoch, covering
// the formats seen across corpus exports.
func parseTimestamp(v string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, v); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse("2006-01-02", v); err == nil {
		return ts, nil
	}
	if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(epoch, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
}

func splitTopics(v string) []string {
	split := func(r rune) bool { return r == ',' || r == ';' }
	var topics []string
	for _, topic := range strings.FieldsFunc(v, split) {
		topic = strings.TrimSpace(topic)
		if topic != "" {
			topics = append(topics, topic)
		}
	}
	return topics
}

// LoadJSON reads a talk corpus from a JSON array file.
func LoadJSON(path string) ([]models.Talk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()

	var raw []struct {
		ID          string    `json:"id"`
		Title       string    `json:"title"`
		Speaker     string    `json:"speaker"`
		Transcript  string    `json:"transcript"`
		URL         string    `json:"url"`
		Views       int       `json:"views"`
		PublishedAt time.Time `json:"published_at"`
		Topics      []string  `json:"topics"`
	}
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode corpus: %w", err)
	}

	talks := make([]models.Talk, 0, len(raw))
	for i, r := range raw {
		if strings.TrimSpace(r.ID) == "" {
			return nil, fmt.Errorf("corpus entry %d: %w", i,
				&types.InvalidInputError{Field: "id", Message: "talk id must not be empty"})
		}
		talks = append(talks, models.Talk{
			ID:          r.ID,
			Title:       r.Title,
			Speaker:     r.Speaker,
			Transcript:  r.Transcript,
			URL:         r.URL,
			Views:       r.Views,
			PublishedAt: r.PublishedAt,
			Topics:      r.Topics,
		})
	}
	return talks, nil
}

// Load picks the loader from the file extension.
func Load(path string) ([]models.Talk, error) {
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		return LoadJSON(path)
	}
	return LoadCSV(path)
}
