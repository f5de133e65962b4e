package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appLog "actwaste/internal/log"
	"actwaste/internal/model"
)

const (
	DefaultBaseURL = "https://www.data.act.gov.au"
	DefaultDataset = "jzzy-44un"
	DefaultTimeout = 15 * time.Second

	// maxBodyBytes bounds how much of a response we are willing to decode.
	maxBodyBytes = 1 << 20
)

// FetchError is a failed upstream request: connection failure, timeout,
// unexpected status or an undecodable body.
type FetchError struct {
	Suburb string
	Status int // 0 when no response was received
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch schedule for %s: status %d: %v", e.Suburb, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch schedule for %s: %v", e.Suburb, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher retrieves collection-schedule records for a suburb.
type Fetcher interface {
	Fetch(ctx context.Context, suburb string) ([]model.Record, error)
}

// HTTPFetcher queries the Socrata open-data endpoint
// <BaseURL>/resource/<Dataset>.json?suburb=<SUBURB>.
type HTTPFetcher struct {
	client  *http.Client
	baseURL string
	dataset string
}

// NewHTTPFetcher creates a fetcher. Empty arguments fall back to the
// public ACT dataset, and timeout <= 0 uses DefaultTimeout.
func NewHTTPFetcher(baseURL, dataset string, timeout time.Duration) *HTTPFetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if dataset == "" {
		dataset = DefaultDataset
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		dataset: dataset,
	}
}

// URL returns the query URL for a suburb; the suburb is upper-cased.
func (f *HTTPFetcher) URL(suburb string) string {
	q := url.Values{}
	q.Set("suburb", NormalizeSuburb(suburb))
	return f.baseURL + "/resource/" + url.PathEscape(f.dataset) + ".json?" + q.Encode()
}

// Fetch performs a single GET and decodes the JSON array of records.
// An empty array is not an error here; callers decide what it means.
func (f *HTTPFetcher) Fetch(ctx context.Context, suburb string) ([]model.Record, error) {
	suburb = NormalizeSuburb(suburb)
	if suburb == "" {
		return nil, &FetchError{Err: errors.New("suburb is empty")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(suburb), nil)
	if err != nil {
		return nil, &FetchError{Suburb: suburb, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	appLog.Debug("schedule fetch start", "suburb", suburb, "url", f.URL(suburb))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Suburb: suburb, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{Suburb: suburb, Status: resp.StatusCode, Err: errors.New(resp.Status)}
	}

	var records []model.Record
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&records); err != nil {
		return nil, &FetchError{Suburb: suburb, Status: resp.StatusCode, Err: fmt.Errorf("decode body: %w", err)}
	}

	appLog.Debug("schedule fetch done", "suburb", suburb, "records", len(records))
	return records, nil
}

// NormalizeSuburb trims and upper-cases a suburb name for querying.
func NormalizeSuburb(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
