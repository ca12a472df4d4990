// Package source fetches classified feedback records from the intake service.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/storymill/storymill/pkg/models"
)

// Sentinel errors for intake service failures.
var (
	ErrSourceUnreachable = errors.New("record source unreachable")
	ErrSourceQueryError  = errors.New("record source query error")
	ErrSourceTimeout     = errors.New("record source timeout")
)

// Client is the interface for fetching classified records.
type Client interface {
	FetchClassified(ctx context.Context, req FetchRequest) (*FetchResult, error)
	Ready(ctx context.Context) error
}

// FetchRequest defines the window and fetch bounds for one run.
type FetchRequest struct {
	Start       time.Time
	End         time.Time
	PageSize    int
	Concurrency int
}

// FetchResult carries the classified records plus any per-record failures.
// Per-record failures are recoverable: the orchestrator counts and warns, the
// run continues with the records that did arrive.
type FetchResult struct {
	Records         []models.Record
	PartialFailures []string
}

// HTTPClient implements Client against the intake service's HTTP API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a new intake HTTP client.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

const (
	defaultPageSize    = 200
	defaultConcurrency = 8
)

// FetchClassified lists record stubs for the window page by page, then pulls
// each record's classification and embedding with a bounded worker pool.
// Classification calls are the only I/O-bound per-record stage in the
// pipeline, and the only place fetch concurrency applies.
func (c *HTTPClient) FetchClassified(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	var stubs []recordStub
	for page := 1; ; page++ {
		batch, hasNext, err := c.listRecords(ctx, req.Start, req.End, page, pageSize)
		if err != nil {
			return nil, err
		}
		stubs = append(stubs, batch...)
		if !hasNext {
			break
		}
	}

	result := &FetchResult{Records: make([]models.Record, 0, len(stubs))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, stub := range stubs {
		g.Go(func() error {
			record, err := c.fetchClassification(gctx, stub)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// A single record's fetch failing must not sink the run.
				result.PartialFailures = append(result.PartialFailures,
					fmt.Sprintf("record %s: %v", stub.ID, err))
				return nil
			}
			result.Records = append(result.Records, record)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Workers finish in arbitrary order; restore a stable order for the
	// deterministic stages downstream.
	sort.Slice(result.Records, func(i, j int) bool {
		return result.Records[i].ID < result.Records[j].ID
	})
	sort.Strings(result.PartialFailures)
	return result, nil
}

// Ready checks intake service availability.
func (c *HTTPClient) Ready(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/ready", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrSourceQueryError, resp.StatusCode)
	}
	return nil
}

type recordStub struct {
	ID        string    `json:"id"`
	Excerpt   string    `json:"excerpt"`
	CreatedAt time.Time `json:"created_at"`
}

type listRecordsResponse struct {
	Data struct {
		Records []recordStub `json:"records"`
		HasNext bool         `json:"has_next"`
	} `json:"data"`
}

func (c *HTTPClient) listRecords(ctx context.Context, start, end time.Time, page, limit int) ([]recordStub, bool, error) {
	params := url.Values{
		"start": {strconv.FormatInt(start.UnixNano(), 10)},
		"end":   {strconv.FormatInt(end.UnixNano(), 10)},
		"page":  {strconv.Itoa(page)},
		"limit": {strconv.Itoa(limit)},
	}
	u := fmt.Sprintf("%s/api/v1/records?%s", c.baseURL, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, false, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("%w: status %d", ErrSourceQueryError, resp.StatusCode)
	}

	var listResp listRecordsResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, false, fmt.Errorf("decoding records response: %w", err)
	}
	return listResp.Data.Records, listResp.Data.HasNext, nil
}

type classificationResponse struct {
	Data struct {
		ActionType      string    `json:"action_type"`
		Direction       string    `json:"direction"`
		Confidence      float64   `json:"confidence"`
		VocabularyKnown bool      `json:"vocabulary_known"`
		Embedding       []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *HTTPClient) fetchClassification(ctx context.Context, stub recordStub) (models.Record, error) {
	u := fmt.Sprintf("%s/api/v1/records/%s/classification", c.baseURL, url.PathEscape(stub.ID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.Record{}, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return models.Record{}, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Record{}, fmt.Errorf("%w: status %d", ErrSourceQueryError, resp.StatusCode)
	}

	var clResp classificationResponse
	if err := json.NewDecoder(resp.Body).Decode(&clResp); err != nil {
		return models.Record{}, fmt.Errorf("decoding classification response: %w", err)
	}

	return models.Record{
		ID:              stub.ID,
		Excerpt:         stub.Excerpt,
		ActionType:      clResp.Data.ActionType,
		Direction:       clResp.Data.Direction,
		Confidence:      clResp.Data.Confidence,
		VocabularyKnown: clResp.Data.VocabularyKnown,
		Embedding:       clResp.Data.Embedding,
		CreatedAt:       stub.CreatedAt,
	}, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

// classifyError maps transport errors to sentinel errors.
func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrSourceTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrSourceUnreachable, err)
}

var _ Client = (*HTTPClient)(nil)
