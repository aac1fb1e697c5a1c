package domain

// Contribution statuses.
const (
	StatusPending   = "pending"
	StatusVerifying = "verifying"
	StatusVerified  = "verified"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
)

// Verification votes.
const (
	VoteApprove = "approve"
	VoteReject  = "reject"
	VoteAbstain = "abstain"
)

// Contribution types.
const (
	TypeCode     = "code"
	TypeDataset  = "dataset"
	TypeDocument = "document"
	TypeOther    = "other"
)

type ContributionMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Language    *string  `json:"language,omitempty"`
}

type Contribution struct {
	ID                string               `json:"id"`
	Submitter         string               `json:"submitter"`
	Type              string               `json:"type" enum:"code,dataset,document,other"`
	Metadata          ContributionMetadata `json:"metadata"`
	ContentHash       string               `json:"content_hash"`
	StorageRef        *string              `json:"storage_ref,omitempty"`
	Status            string               `json:"status" enum:"pending,verifying,verified,rejected,failed"`
	QualityScore      *float64             `json:"quality_score,omitempty"`
	VerificationCount int                  `json:"verification_count"`
	RewardAmount      *float64             `json:"reward_amount,omitempty"`
	CreatedAt         string               `json:"created_at" format:"date-time"`
	UpdatedAt         string               `json:"updated_at" format:"date-time"`
}

// Terminal reports whether the contribution reached a final decision.
func (c Contribution) Terminal() bool {
	return c.Status == StatusVerified || c.Status == StatusRejected
}

type Verification struct {
	ID             string         `json:"id"`
	ContributionID string         `json:"contribution_id"`
	AgentID        string         `json:"agent_id"`
	Vote           string         `json:"vote" enum:"approve,reject,abstain"`
	Score          float64        `json:"score" minimum:"0" maximum:"100"`
	Reasoning      string         `json:"reasoning,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
}

// Consensus is a derived projection over a contribution's verification set.
// It is recomputed on demand and never persisted.
type Consensus struct {
	ContributionID string  `json:"contribution_id"`
	Total          int     `json:"total_verifications"`
	Approvals      int     `json:"approvals"`
	ApprovalRate   float64 `json:"approval_rate"`
	AverageScore   float64 `json:"average_score"`
	Reached        bool    `json:"consensus_reached"`
	Status         string  `json:"status" enum:"pending,verified,rejected"`
}

type Contributor struct {
	ID              string  `json:"id"`
	Address         string  `json:"address"`
	ReputationScore float64 `json:"reputation_score"`
	JoinedAt        string  `json:"joined_at" format:"date-time"`
}

// ContributorStats aggregates a contributor's verified history. It is the
// reputation input to the reward calculator.
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

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	AgentID   string `json:"agent_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
