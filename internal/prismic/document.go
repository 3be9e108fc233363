package prismic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// timestampLayout is the layout Prismic uses for document metadata dates.
const timestampLayout = "2006-01-02T15:04:05-0700"

// Timestamp decodes Prismic metadata dates. A JSON null leaves the pointer nil.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON accepts the Prismic layout as well as RFC3339.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("prismic: decode timestamp: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{timestampLayout, time.RFC3339Nano, time.RFC3339} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("prismic: unrecognised timestamp %q", raw)
}

// MarshalJSON writes the timestamp back in the Prismic layout.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(timestampLayout))
}

// Document is one entry of a search response. Data keeps the custom-type fields raw so callers
// can decode them into their own shapes.
type Document struct {
	ID                   string          `json:"id"`
	UID                  string          `json:"uid"`
	Type                 string          `json:"type"`
	Href                 string          `json:"href"`
	Tags                 []string        `json:"tags"`
	Lang                 string          `json:"lang"`
	FirstPublicationDate *Timestamp      `json:"first_publication_date"`
	LastPublicationDate  *Timestamp      `json:"last_publication_date"`
	AlternateLanguages   []AlternateLang `json:"alternate_languages"`
	Data                 json.RawMessage `json:"data"`
}

// AlternateLang links a document to its translations.
type AlternateLang struct {
	ID   string `json:"id"`
	UID  string `json:"uid"`
	Type string `json:"type"`
	Lang string `json:"lang"`
}

// Response is the paginated envelope of GET /documents/search.
type Response struct {
	Page             int        `json:"page"`
	ResultsPerPage   int        `json:"results_per_page"`
	ResultsSize      int        `json:"results_size"`
	TotalResultsSize int        `json:"total_results_size"`
	TotalPages       int        `json:"total_pages"`
	NextPage         *string    `json:"next_page"`
	PrevPage         *string    `json:"prev_page"`
	Results          []Document `json:"results"`
}

type apiInfo struct {
	Refs []apiRef `json:"refs"`
}

type apiRef struct {
	ID          string `json:"id"`
	Ref         string `json:"ref"`
	Label       string `json:"label"`
	IsMasterRef bool   `json:"isMasterRef"`
}

func (a apiInfo) masterRef() (string, bool) {
	for _, ref := range a.Refs {
		if ref.IsMasterRef && ref.Ref != "" {
			return ref.Ref, true
		}
	}
	return "", false
}
