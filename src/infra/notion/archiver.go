package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/velvet-oracle/ritual/src/domain/attempt"
	"github.com/velvet-oracle/ritual/src/domain/shared"
)

const (
	DefaultBaseURL = "https://api.notion.com/v1"
	APIVersion     = "2022-06-28"
	maxRichText    = 1900
)

// Exam database properties.
const (
	propPlayer        = "Joueur ID"
	propMode          = "Mode"
	propScore         = "Score"
	propScoreMax      = "Score max"
	propStatus        = "Statut"
	propDate          = "Date/Heure"
	propTimeSeconds   = "Temps total (s)"
	propTimeMMSS      = "Temps total (mm:ss)"
	propAnswers       = "Réponses"
	propComments      = "Commentaires"
	propVersion       = "Version Bot"
	propProfile       = "Profil joueur"
	propDisplayName   = "Nom utilisateur"
	propUsername      = "Username Telegram"
	propQualification = "Qualification"
)

// ErrDisabled is returned when no API key or database is configured.
var ErrDisabled = errors.New("notion archive disabled")

// APIError is a non-2xx Notion response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notion %d %s: %s", e.Status, e.Code, e.Message)
}

var missingPropertyPattern = regexp.MustCompile(`^(.+?) is not a property that exists`)

// Archiver implements attempt.Archiver on a Notion database.
type Archiver struct {
	APIKey     string
	DatabaseID string
	BaseURL    string
	Version    string
	HTTPClient *http.Client
	Clock      func() time.Time
}

// NewArchiver creates an archiver for the exams database.
func NewArchiver(apiKey, databaseID, baseURL string, timeout time.Duration) *Archiver {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Archiver{
		APIKey:     apiKey,
		DatabaseID: databaseID,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Version:    "dev",
		HTTPClient: &http.Client{Timeout: timeout},
		Clock:      func() time.Time { return time.Now().UTC() },
	}
}

// WithHTTPClient sets a custom HTTP client.
func (a *Archiver) WithHTTPClient(client *http.Client) *Archiver {
	a.HTTPClient = client
	return a
}

// Enabled reports whether the archiver has credentials.
func (a *Archiver) Enabled() bool {
	return a.APIKey != "" && a.DatabaseID != ""
}

// Archive creates one page per completed ritual and returns its id.
func (a *Archiver) Archive(ctx context.Context, s attempt.Summary) (string, error) {
	if !a.Enabled() {
		return "", ErrDisabled
	}
	when := s.CompletedAt
	if when.IsZero() {
		when = a.Clock()
	}
	version := s.Version
	if version == "" {
		version = a.Version
	}
	props := map[string]any{
		propPlayer:      title(string(s.ExternalID)),
		propMode:        selectOption(orDash(s.Mode)),
		propScore:       number(s.ScoreRaw),
		propScoreMax:    number(s.ScoreMax),
		propStatus:      selectOption(s.Verdict()),
		propDate:        date(when),
		propTimeSeconds: number(s.TimeTotalSeconds),
		propTimeMMSS:    richText(attempt.FormatDuration(s.TimeTotalSeconds)),
		propAnswers:     richText(attempt.FormatAnswers(s.Answers)),
		propComments:    richText(orDash(s.FeedbackText)),
		propVersion:     richText(version),
		propProfile:     selectOption(s.Profile()),
		propDisplayName: richText(orDash(s.DisplayName)),
		propUsername:    richText(orDash(s.Username)),
	}
	if s.QualifiedVia != "" {
		props[propQualification] = richText(s.QualifiedVia)
	}
	return a.createPage(ctx, props)
}

// AppendFeedback writes text into the comments of the player's latest page,
// or creates a feedback-only page when the player has none.
func (a *Archiver) AppendFeedback(ctx context.Context, externalID shared.ExternalID, text string) (string, error) {
	if !a.Enabled() {
		return "", ErrDisabled
	}
	pageID, err := a.latestPage(ctx, externalID)
	if err != nil {
		return "", err
	}
	if pageID == "" {
		return a.createPage(ctx, map[string]any{
			propPlayer:   title(string(externalID)),
			propStatus:   selectOption(attempt.VerdictPending),
			propDate:     date(a.Clock()),
			propComments: richText(orDash(text)),
			propVersion:  richText(a.Version),
		})
	}
	err = a.do(ctx, http.MethodPatch, "/pages/"+pageID, map[string]any{
		"properties": map[string]any{propComments: richText(orDash(text))},
	}, nil)
	return pageID, err
}

// Ping reads the database definition.
func (a *Archiver) Ping(ctx context.Context) error {
	if !a.Enabled() {
		return ErrDisabled
	}
	return a.do(ctx, http.MethodGet, "/databases/"+a.DatabaseID, nil, nil)
}

func (a *Archiver) latestPage(ctx context.Context, externalID shared.ExternalID) (string, error) {
	query := map[string]any{
		"filter": map[string]any{
			"property": propPlayer,
			"title":    map[string]any{"equals": string(externalID)},
		},
		"sorts":     []map[string]any{{"property": propDate, "direction": "descending"}},
		"page_size": 1,
	}
	var out struct {
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	if err := a.do(ctx, http.MethodPost, "/databases/"+a.DatabaseID+"/query", query, &out); err != nil {
		return "", err
	}
	if len(out.Results) == 0 {
		return "", nil
	}
	return out.Results[0].ID, nil
}

// createPage drops properties the database does not define and retries, so
// an older database layout still receives the core fields.
func (a *Archiver) createPage(ctx context.Context, props map[string]any) (string, error) {
	for range len(props) {
		var out struct {
			ID string `json:"id"`
		}
		err := a.do(ctx, http.MethodPost, "/pages", map[string]any{
			"parent":     map[string]any{"database_id": a.DatabaseID},
			"properties": props,
		}, &out)
		if err == nil {
			return out.ID, nil
		}
		missing := missingProperty(err)
		if missing == "" || missing == propPlayer {
			return "", err
		}
		if _, ok := props[missing]; !ok {
			return "", err
		}
		delete(props, missing)
	}
	return "", errors.New("notion: no writable properties")
}

func missingProperty(err error) string {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		return ""
	}
	if m := missingPropertyPattern.FindStringSubmatch(apiErr.Message); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func (a *Archiver) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.APIKey)
	req.Header.Set("Notion-Version", APIVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &e)
		return &APIError{Status: resp.StatusCode, Code: e.Code, Message: e.Message}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func title(s string) map[string]any {
	return map[string]any{"title": textItems(s)}
}

func richText(s string) map[string]any {
	return map[string]any{"rich_text": textItems(s)}
}

func textItems(s string) []map[string]any {
	return []map[string]any{{"type": "text", "text": map[string]any{"content": truncate(s, maxRichText)}}}
}

func selectOption(name string) map[string]any {
	return map[string]any{"select": map[string]any{"name": name}}
}

func number(n int) map[string]any {
	return map[string]any{"number": n}
}

func date(t time.Time) map[string]any {
	return map[string]any{"date": map[string]any{"start": t.UTC().Format(time.RFC3339)}}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
