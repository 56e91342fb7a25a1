package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/velvet-oracle/ritual/src/domain/shared"
)

const (
	DefaultBaseURL       = "https://api.airtable.com/v0"
	DefaultSchemaRetries = 3
	pageSize             = 100
)

// Record is one Airtable row.
type Record struct {
	ID          string         `json:"id,omitempty"`
	CreatedTime string         `json:"createdTime,omitempty"`
	Fields      map[string]any `json:"fields"`
}

// Sort orders a list query.
type Sort struct {
	Field     string
	Direction string
}

// Query filters and orders a list call.
type Query struct {
	Formula    string
	Sort       []Sort
	MaxRecords int
}

// Client is a minimal Airtable REST client for one base.
type Client struct {
	APIKey        string
	BaseID        string
	BaseURL       string
	HTTPClient    *http.Client
	SchemaRetries int
	Logger        *zap.Logger
}

// NewClient creates a client with a per-call timeout.
func NewClient(apiKey, baseID, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		APIKey:        apiKey,
		BaseID:        baseID,
		BaseURL:       strings.TrimRight(baseURL, "/"),
		HTTPClient:    &http.Client{Timeout: timeout},
		SchemaRetries: DefaultSchemaRetries,
		Logger:        zap.NewNop(),
	}
}

// WithHTTPClient sets a custom HTTP client.
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.HTTPClient = client
	return c
}

// WithLogger sets the logger used for dropped-field warnings.
func (c *Client) WithLogger(logger *zap.Logger) *Client {
	if logger != nil {
		c.Logger = logger
	}
	return c
}

// Create inserts a record.
func (c *Client) Create(ctx context.Context, table string, fields map[string]any) (Record, error) {
	var out Record
	err := c.do(ctx, http.MethodPost, c.tableURL(table), nil, Record{Fields: fields}, &out)
	return out, err
}

// Update patches the given fields of a record, leaving the others unchanged.
func (c *Client) Update(ctx context.Context, table, id string, fields map[string]any) (Record, error) {
	var out Record
	err := c.do(ctx, http.MethodPatch, c.tableURL(table)+"/"+url.PathEscape(id), nil, Record{Fields: fields}, &out)
	return out, err
}

// Get fetches a record by id. A missing record matches shared.ErrNotFound.
func (c *Client) Get(ctx context.Context, table, id string) (Record, error) {
	var out Record
	err := c.do(ctx, http.MethodGet, c.tableURL(table)+"/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

// FindOne returns the first record matching formula, or an error matching
// shared.ErrNotFound.
func (c *Client) FindOne(ctx context.Context, table, formula string) (Record, error) {
	records, err := c.List(ctx, table, Query{Formula: formula, MaxRecords: 1})
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, fmt.Errorf("%s where %s: %w", table, formula, shared.ErrNotFound)
	}
	return records[0], nil
}

type listResponse struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset"`
}

// List pages through a table until MaxRecords is reached or the table ends.
func (c *Client) List(ctx context.Context, table string, q Query) ([]Record, error) {
	params := url.Values{}
	if q.Formula != "" {
		params.Set("filterByFormula", q.Formula)
	}
	if q.MaxRecords > 0 {
		params.Set("maxRecords", strconv.Itoa(q.MaxRecords))
	}
	size := pageSize
	if q.MaxRecords > 0 && q.MaxRecords < size {
		size = q.MaxRecords
	}
	params.Set("pageSize", strconv.Itoa(size))
	for i, s := range q.Sort {
		params.Set(fmt.Sprintf("sort[%d][field]", i), s.Field)
		if s.Direction != "" {
			params.Set(fmt.Sprintf("sort[%d][direction]", i), s.Direction)
		}
	}

	var records []Record
	for {
		var page listResponse
		if err := c.do(ctx, http.MethodGet, c.tableURL(table), params, nil, &page); err != nil {
			return nil, err
		}
		records = append(records, page.Records...)
		if page.Offset == "" || (q.MaxRecords > 0 && len(records) >= q.MaxRecords) {
			break
		}
		params.Set("offset", page.Offset)
	}
	if q.MaxRecords > 0 && len(records) > q.MaxRecords {
		records = records[:q.MaxRecords]
	}
	return records, nil
}

// Ping reads one record to check credentials and reachability.
func (c *Client) Ping(ctx context.Context, table string) error {
	_, err := c.List(ctx, table, Query{MaxRecords: 1})
	return err
}

// CreateTolerant creates a record, stripping fields the schema rejects.
func (c *Client) CreateTolerant(ctx context.Context, table string, fields map[string]any, required []string) (Record, error) {
	rec, dropped, err := Tolerant(ctx, fields, required, c.SchemaRetries, func(ctx context.Context, f map[string]any) (Record, error) {
		return c.Create(ctx, table, f)
	})
	c.logDropped(table, "", dropped)
	return rec, err
}

// UpdateTolerant updates a record, stripping fields the schema rejects.
func (c *Client) UpdateTolerant(ctx context.Context, table, id string, fields map[string]any, required []string) (Record, error) {
	rec, dropped, err := Tolerant(ctx, fields, required, c.SchemaRetries, func(ctx context.Context, f map[string]any) (Record, error) {
		return c.Update(ctx, table, id, f)
	})
	c.logDropped(table, id, dropped)
	return rec, err
}

func (c *Client) logDropped(table, id string, dropped []string) {
	if len(dropped) == 0 {
		return
	}
	c.Logger.Warn("airtable fields dropped by schema",
		zap.String("table", table),
		zap.String("record_id", id),
		zap.Strings("fields", dropped),
	)
}

func (c *Client) tableURL(table string) string {
	return c.BaseURL + "/" + url.PathEscape(c.BaseID) + "/" + url.PathEscape(table)
}

type errorEnvelope struct {
	Error json.RawMessage `json:"error"`
}

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, body any, out any) error {
	if c.APIKey == "" || c.BaseID == "" {
		return fmt.Errorf("%w: missing api key or base id", ErrUnavailable)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func decodeError(status int, raw []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Error) == 0 {
		return classify(status, "", truncate(string(raw), 300))
	}
	var body errorBody
	if err := json.Unmarshal(env.Error, &body); err == nil {
		return classify(status, body.Type, body.Message)
	}
	// Some endpoints answer {"error": "NOT_FOUND"}.
	var code string
	if err := json.Unmarshal(env.Error, &code); err == nil {
		return classify(status, code, code)
	}
	return classify(status, "", truncate(string(raw), 300))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}
