package activitypub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	ContentTypeActivity = "application/activity+json"
	ContentTypeLdJson   = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

	acceptActivity = ContentTypeActivity + ", " + ContentTypeLdJson

	defaultMaxBody = 1 << 20
)

type FetchOutcome int

const (
	FetchOK FetchOutcome = iota
	FetchTimedOut
	FetchNetworkError
)

func (o FetchOutcome) String() string {
	switch o {
	case FetchOK:
		return "ok"
	case FetchTimedOut:
		return "timed out"
	default:
		return "network error"
	}
}

// FetchResult is the outcome of one bounded request. A non-2xx answer is
// still FetchOK; callers look at StatusCode.
type FetchResult struct {
	Outcome    FetchOutcome
	StatusCode int
	Header     http.Header
	Body       []byte
	Err        error
}

func (r FetchResult) Success() bool {
	return r.Outcome == FetchOK && r.StatusCode >= 200 && r.StatusCode < 300
}

// Fetcher performs every outbound request with a hard deadline.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBody   int64
}

func NewFetcher(client *http.Client, userAgent string) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{client: client, userAgent: userAgent, maxBody: defaultMaxBody}
}

// Do sends req, cancelling it once timeout elapses.
func (f *Fetcher) Do(ctx context.Context, req *http.Request, timeout time.Duration) FetchResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req = req.WithContext(ctx)
	if req.Header.Get("User-Agent") == "" && f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return failed(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return failed(ctx, err)
	}
	return FetchResult{Outcome: FetchOK, StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
}

// Get fetches url with the given Accept header.
func (f *Fetcher) Get(ctx context.Context, url, accept string, timeout time.Duration) FetchResult {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return FetchResult{Outcome: FetchNetworkError, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", accept)
	return f.Do(ctx, req, timeout)
}

func failed(ctx context.Context, err error) FetchResult {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return FetchResult{Outcome: FetchTimedOut, Err: err}
	}
	return FetchResult{Outcome: FetchNetworkError, Err: err}
}
