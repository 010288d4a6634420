package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"builderbuddy-backend/core/marketplace"
)

// DefaultGitcoinBaseURL is the Gitcoin Passport scorer API.
const DefaultGitcoinBaseURL = "https://api.scorer.gitcoin.co"

type gitcoinProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewGitcoinScoreProvider builds a provider that reads passport scores from
// a Gitcoin-compatible scorer API.
func NewGitcoinScoreProvider(baseURL, apiKey string) ScoreProvider {
	if baseURL == "" {
		baseURL = DefaultGitcoinBaseURL
	}
	return &gitcoinProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type gitcoinScoreResponse struct {
	Address  string          `json:"address"`
	Score    json.RawMessage `json:"score"`
	Status   string          `json:"status"`
	Response string          `json:"Response"`
	Error    string          `json:"error"`
}

func (p *gitcoinProvider) FetchScore(ctx context.Context, req marketplace.ScoreRequest) (uint64, error) {
	if req.ScorerID == "" || req.UserID == "" {
		return 0, fmt.Errorf("scorer id and user id are required")
	}
	u := fmt.Sprintf("%s/registry/score/%s/%s", p.baseURL, url.PathEscape(req.ScorerID), url.PathEscape(req.UserID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("X-API-KEY", p.apiKey)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("score request failed: %s", resp.Status)
	}
	var body gitcoinScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	if body.Response == "Error" {
		return 0, fmt.Errorf("score api error: %s", body.Error)
	}
	return ScaleScore(body.Score)
}

// ScaleScore turns a passport score (JSON number or numeric string) into
// the registry's integer form, score × 100 truncated.
func ScaleScore(raw json.RawMessage) (uint64, error) {
	s := string(bytes.TrimSpace(raw))
	s = strings.Trim(s, `"`)
	if s == "" || s == "null" {
		return 0, fmt.Errorf("score missing from response")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse score %q: %w", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f*100 >= math.MaxUint64 {
		return 0, fmt.Errorf("score %q out of range", s)
	}
	if f <= 0 {
		return 0, nil
	}
	// the epsilon keeps 0.29 from truncating to 28
	return uint64(math.Floor(f*100 + 1e-9)), nil
}
