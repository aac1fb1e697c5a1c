package meritflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Meritflow HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	AgentID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// ContributionMetadata describes the submitted artifact.
type ContributionMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Language    *string  `json:"language,omitempty"`
}

// Contribution represents the API contribution model.
type Contribution struct {
	ID                string               `json:"id"`
	Submitter         string               `json:"submitter"`
	Type              string               `json:"type"`
	Metadata          ContributionMetadata `json:"metadata"`
	ContentHash       string               `json:"content_hash"`
	StorageRef        *string              `json:"storage_ref,omitempty"`
	Status            string               `json:"status"`
	QualityScore      *float64             `json:"quality_score,omitempty"`
	VerificationCount int                  `json:"verification_count"`
	RewardAmount      *float64             `json:"reward_amount,omitempty"`
	CreatedAt         string               `json:"created_at"`
	UpdatedAt         string               `json:"updated_at"`
}

// Verification represents one agent's scored vote.
type Verification struct {
	ID             string         `json:"id"`
	ContributionID string         `json:"contribution_id"`
	AgentID        string         `json:"agent_id"`
	Vote           string         `json:"vote"`
	Score          float64        `json:"score"`
	Reasoning      string         `json:"reasoning,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	CreatedAt      string         `json:"created_at"`
}

// Consensus is the derived decision projection.
type Consensus struct {
	ContributionID string  `json:"contribution_id"`
	Total          int     `json:"total_verifications"`
	Approvals      int     `json:"approvals"`
	ApprovalRate   float64 `json:"approval_rate"`
	AverageScore   float64 `json:"average_score"`
	Reached        bool    `json:"consensus_reached"`
	Status         string  `json:"status"`
}

// Contributor is a registered submitter.
type Contributor struct {
	ID              string  `json:"id"`
	Address         string  `json:"address"`
	ReputationScore float64 `json:"reputation_score"`
	JoinedAt        string  `json:"joined_at"`
}

// ContributorStats aggregates a contributor's history.
type ContributorStats struct {
	ContributorID      string  `json:"contributor_id"`
	Address            string  `json:"address"`
	TotalContributions int     `json:"total_contributions"`
	VerifiedCount      int     `json:"verified_count"`
	RejectedCount      int     `json:"rejected_count"`
	AverageQuality     float64 `json:"average_quality"`
	TotalRewards       float64 `json:"total_rewards"`
	ReputationScore    float64 `json:"reputation_score"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateContribution submits an artifact for verification.
func (c *Client) CreateContribution(ctx context.Context, submitter, contributionType, contentHash string, metadata ContributionMetadata) (Contribution, error) {
	body := map[string]any{
		"submitter":    submitter,
		"type":         contributionType,
		"content_hash": contentHash,
		"metadata":     metadata,
	}
	var resp Contribution
	err := c.do(ctx, http.MethodPost, "contributions", body, &resp)
	return resp, err
}

// GetContribution fetches a contribution by id.
func (c *Client) GetContribution(ctx context.Context, id string) (Contribution, error) {
	var resp Contribution
	err := c.do(ctx, http.MethodGet, "contributions/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListContributions returns contributions, optionally filtered.
func (c *Client) ListContributions(ctx context.Context, submitter, status string, limit int) ([]Contribution, error) {
	q := url.Values{}
	if submitter != "" {
		q.Set("submitter", submitter)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "contributions"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Contribution
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SubmitVerification records a scored vote for a contribution.
func (c *Client) SubmitVerification(ctx context.Context, contributionID, vote string, score float64, reasoning string) (Verification, error) {
	body := map[string]any{
		"contribution_id": contributionID,
		"vote":            vote,
		"score":           score,
		"reasoning":       reasoning,
	}
	if c.AgentID != "" {
		body["agent_id"] = c.AgentID
	}
	var resp Verification
	err := c.do(ctx, http.MethodPost, "verifications", body, &resp)
	return resp, err
}

// ListVerifications returns all verifications for a contribution.
func (c *Client) ListVerifications(ctx context.Context, contributionID string) ([]Verification, error) {
	var resp []Verification
	endpoint := fmt.Sprintf("contributions/%s/verifications", url.PathEscape(contributionID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetConsensus returns the current consensus projection.
func (c *Client) GetConsensus(ctx context.Context, contributionID string) (Consensus, error) {
	var resp Consensus
	endpoint := fmt.Sprintf("contributions/%s/consensus", url.PathEscape(contributionID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RegisterContributor registers a wallet address.
func (c *Client) RegisterContributor(ctx context.Context, address string) (Contributor, error) {
	var resp Contributor
	err := c.do(ctx, http.MethodPost, "contributors", map[string]any{"address": address}, &resp)
	return resp, err
}

// ContributorStats returns aggregated statistics for an address.
func (c *Client) ContributorStats(ctx context.Context, address string) (ContributorStats, error) {
	var resp ContributorStats
	endpoint := fmt.Sprintf("contributors/%s/stats", url.PathEscape(address))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent audit log entries.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.AgentID != "":
		req.Header.Set("X-Agent-Id", c.AgentID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
