package oracle

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
)

// RoundData is a single reading obtained from the external price feed. Answer
// is an 8-decimal fixed point value. The feed must be treated as untrusted and
// possibly failing; readings are never persisted.
type RoundData struct {
	RoundID         uint64
	Answer          *big.Int
	StartedAt       int64
	UpdatedAt       int64
	AnsweredInRound uint64
}

// Clone returns a deep copy of the reading so callers cannot mutate shared
// state.
func (r RoundData) Clone() RoundData {
	clone := r
	if r.Answer != nil {
		clone.Answer = new(big.Int).Set(r.Answer)
	}
	return clone
}

// PriceFeed resolves the latest round reported by an upstream price oracle.
type PriceFeed interface {
	LatestRound() (RoundData, error)
}

// ManualFeed provides an in-memory feed implementation used for tests and
// manual overrides during incident response.
type ManualFeed struct {
	mu    sync.RWMutex
	round RoundData
	err   error
	set   bool
}

// NewManualFeed constructs an empty manual feed instance.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{}
}

// SetRound stores the provided reading for subsequent LatestRound calls.
func (m *ManualFeed) SetRound(round RoundData) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.round = round.Clone()
	m.err = nil
	m.set = true
	m.mu.Unlock()
}

// SetError forces LatestRound to fail with the supplied error, simulating an
// unreachable or reverting upstream feed.
func (m *ManualFeed) SetError(err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// LatestRound retrieves the stored reading.
func (m *ManualFeed) LatestRound() (RoundData, error) {
	if m == nil {
		return RoundData{}, fmt.Errorf("manual feed not configured")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return RoundData{}, m.err
	}
	if !m.set {
		return RoundData{}, fmt.Errorf("manual feed: no round recorded")
	}
	return m.round.Clone(), nil
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFeed fetches round data from a JSON endpoint shaped like an aggregator
// proxy (roundId, answer, startedAt, updatedAt, answeredInRound).
type HTTPFeed struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
}

// NewHTTPFeed constructs an HTTP feed adapter. When the client is nil
// http.DefaultClient is used. The API key is optional and only added to the
// request headers when supplied.
func NewHTTPFeed(client HTTPDoer, endpoint, apiKey string) (*HTTPFeed, error) {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		return nil, fmt.Errorf("http feed: endpoint required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFeed{client: client, endpoint: ep, apiKey: strings.TrimSpace(apiKey)}, nil
}

// LatestRound queries the configured endpoint for the most recent reading.
func (f *HTTPFeed) LatestRound() (RoundData, error) {
	if f == nil {
		return RoundData{}, fmt.Errorf("http feed not configured")
	}
	req, err := http.NewRequest(http.MethodGet, f.endpoint, nil)
	if err != nil {
		return RoundData{}, err
	}
	if f.apiKey != "" {
		req.Header.Set("x-api-key", f.apiKey)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return RoundData{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return RoundData{}, fmt.Errorf("http feed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		RoundID         uint64 `json:"roundId"`
		Answer          string `json:"answer"`
		StartedAt       int64  `json:"startedAt"`
		UpdatedAt       int64  `json:"updatedAt"`
		AnsweredInRound uint64 `json:"answeredInRound"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return RoundData{}, fmt.Errorf("http feed: decode: %w", err)
	}
	answer, ok := new(big.Int).SetString(strings.TrimSpace(payload.Answer), 10)
	if !ok {
		return RoundData{}, fmt.Errorf("http feed: invalid answer %q", payload.Answer)
	}
	return RoundData{
		RoundID:         payload.RoundID,
		Answer:          answer,
		StartedAt:       payload.StartedAt,
		UpdatedAt:       payload.UpdatedAt,
		AnsweredInRound: payload.AnsweredInRound,
	}, nil
}
