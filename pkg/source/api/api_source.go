// Package api implements the HTTP/JSON source connector. Batch boundaries
// are expressed through URL placeholders; rows are extracted from the
// response body under a configurable root key.
package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/tidesync/tidesync/pkg/errors"
	"github.com/tidesync/tidesync/pkg/schema"
	"github.com/tidesync/tidesync/pkg/source"
)

// URL placeholders substituted per batch. BATCH_NUM starts at zero;
// BATCH_NUM_PLUS_ONE serves one-based page parameters.
const (
	placeholderBatchNum     = "{{BATCH_NUM}}"
	placeholderBatchNumNext = "{{BATCH_NUM_PLUS_ONE}}"
)

// Config holds the endpoint and auth parameters of an API source.
type Config struct {
	// URL is the batch endpoint, with optional paging placeholders
	URL string `json:"url"`
	// RowsRootKey locates the row array inside the response body; empty
	// means the body itself is the array
	RowsRootKey string `json:"rowsRootKey,omitempty"`
	// Name titles the inferred schema; falls back to the root key
	Name string `json:"name,omitempty"`

	AuthFlow      string         `json:"authFlow,omitempty"`
	Token         string         `json:"token,omitempty"`
	TokenUser     string         `json:"tokenUser,omitempty"`
	TokenPassword string         `json:"tokenPassword,omitempty"`
	Redirect      RedirectConfig `json:"redirect,omitempty"`
}

// Source is an API source connector for one pipeline execution.
type Source struct {
	cfg         Config
	keyOverride string
	sampleSize  int
	logger      *zap.Logger

	client *http.Client
	tokens oauth2.TokenSource
	def    *schema.Definition
	key    schema.Key

	// first batch fetched during Open for schema sampling, replayed by the
	// first cursor so the endpoint is not hit twice for batch zero
	firstBatch []source.Row
}

// New validates the configuration and builds an unopened connector.
func New(cfg Config, primaryKeyOverride string, sampleSize int, logger *zap.Logger) (*Source, error) {
	if cfg.URL == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "api source requires a url")
	}
	if sampleSize <= 0 {
		sampleSize = 10
	}
	return &Source{
		cfg:         cfg,
		keyOverride: primaryKeyOverride,
		sampleSize:  sampleSize,
		logger:      logger,
	}, nil
}

// Open acquires the bearer token, fetches batch zero and infers the schema
// from its leading rows.
func (s *Source) Open(ctx context.Context) error {
	tokens, err := tokenSource(ctx, s.cfg)
	if err != nil {
		return err
	}
	s.tokens = tokens
	s.client = &http.Client{Timeout: 30 * time.Second}

	rows, truncated, err := s.fetchBatch(ctx, 0)
	if err != nil {
		return err
	}
	if truncated {
		return errors.New(errors.ErrorTypeConnection, "api source unreachable on first batch")
	}
	s.firstBatch = rows

	title := s.cfg.Name
	if title == "" {
		title = s.cfg.RowsRootKey
	}
	s.def = schema.FromSamples(title, rows, s.sampleSize, s.logger)
	s.key = schema.ResolveKey(s.def, s.keyOverride)

	s.logger.Info("api source opened",
		zap.String("url", s.cfg.URL),
		zap.Int("sampled_rows", len(rows)),
		zap.Int("fields", len(s.def.Properties)),
		zap.String("primary_key", s.key.Name),
		zap.String("key_source", s.key.Source.String()))

	return nil
}

// Schema returns the definition inferred from sampled rows.
func (s *Source) Schema(ctx context.Context) (*schema.Definition, error) {
	if s.def == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "source not opened")
	}
	return s.def, nil
}

// Key returns the resolved primary key with its provenance.
func (s *Source) Key() schema.Key {
	return s.key
}

// Cursor returns a cursor paging through the endpoint batch by batch. The
// batch zero fetched during Open is replayed instead of re-requested.
func (s *Source) Cursor(batchSize int) source.Cursor {
	return &apiCursor{src: s}
}

// Close releases the HTTP client state.
func (s *Source) Close(ctx context.Context) error {
	if s.client != nil {
		s.client.CloseIdleConnections()
	}
	return nil
}

// fetchBatch requests one batch. A failed request or an unusable body does
// not error: it yields an empty batch flagged as truncated, so a transient
// outage ends the scan with the rows already fetched.
func (s *Source) fetchBatch(ctx context.Context, batchNum int) ([]source.Row, bool, error) {
	target := fillPlaceholders(s.cfg.URL, batchNum)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ErrorTypeConfig, "cannot build api request")
	}
	req.Header.Set("Accept", "application/json")
	if s.tokens != nil {
		token, err := s.tokens.Token()
		if err != nil {
			return nil, false, errors.Wrap(err, errors.ErrorTypeAuthentication, "cannot obtain api token")
		}
		token.SetAuthHeader(req)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("api batch request failed, truncating scan",
			zap.Int("batch", batchNum), zap.Error(err))
		return nil, true, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.logger.Warn("api batch body unreadable, truncating scan",
			zap.Int("batch", batchNum), zap.Error(err))
		return nil, true, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Warn("api batch answered non-2xx, truncating scan",
			zap.Int("batch", batchNum), zap.Int("status", resp.StatusCode))
		return nil, true, nil
	}

	rows, ok := extractRows(body, s.cfg.RowsRootKey)
	if !ok {
		s.logger.Warn("api batch body missing rows root, truncating scan",
			zap.Int("batch", batchNum), zap.String("root_key", s.cfg.RowsRootKey))
		return nil, true, nil
	}

	return rows, false, nil
}

// extractRows pulls the row array out of the response body.
func extractRows(body []byte, rootKey string) ([]source.Row, bool) {
	raw := body
	if rootKey != "" {
		result := gjson.GetBytes(body, rootKey)
		if !result.Exists() || !result.IsArray() {
			return nil, false
		}
		raw = []byte(result.Raw)
	}

	var rows []source.Row
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, false
	}
	return rows, true
}

// fillPlaceholders substitutes the batch counters into the endpoint URL.
func fillPlaceholders(rawURL string, batchNum int) string {
	rawURL = strings.ReplaceAll(rawURL, placeholderBatchNum, strconv.Itoa(batchNum))
	rawURL = strings.ReplaceAll(rawURL, placeholderBatchNumNext, strconv.Itoa(batchNum+1))
	return rawURL
}

// apiCursor pages through the endpoint by batch number. Endpoints without
// paging placeholders serve the whole set as batch zero and end the scan on
// the identical second response.
type apiCursor struct {
	src       *Source
	batchNum  int
	truncated bool
	done      bool
}

func (c *apiCursor) NextBatch(ctx context.Context) ([]source.Row, error) {
	if c.done {
		return nil, nil
	}

	// Batch zero was already fetched for schema sampling.
	if c.batchNum == 0 && c.src.firstBatch != nil {
		rows := c.src.firstBatch
		c.src.firstBatch = nil
		c.batchNum++
		if !strings.Contains(c.src.cfg.URL, placeholderBatchNum) &&
			!strings.Contains(c.src.cfg.URL, placeholderBatchNumNext) {
			c.done = true
		}
		return rows, nil
	}

	rows, truncated, err := c.src.fetchBatch(ctx, c.batchNum)
	if err != nil {
		return nil, err
	}
	if truncated {
		c.truncated = true
		c.done = true
		return nil, nil
	}

	c.batchNum++
	if len(rows) == 0 {
		c.done = true
	}
	return rows, nil
}

// Truncated reports whether the scan ended on a failed request rather than
// source exhaustion.
func (c *apiCursor) Truncated() bool {
	return c.truncated
}

func (c *apiCursor) Close(ctx context.Context) error {
	return nil
}
