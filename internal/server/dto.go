package server

import (
	"meritflow/internal/domain"
)

// Request payloads

type CreateContributionRequest struct {
	Submitter   string                      `json:"submitter,omitempty"`
	Type        string                      `json:"type" enum:"code,dataset,document,other"`
	Metadata    domain.ContributionMetadata `json:"metadata"`
	ContentHash string                      `json:"content_hash"`
	StorageRef  *string                     `json:"storage_ref,omitempty"`
}

type SubmitVerificationRequest struct {
	ContributionID string         `json:"contribution_id"`
	AgentID        string         `json:"agent_id,omitempty"`
	Vote           string         `json:"vote" enum:"approve,reject,abstain"`
	Score          float64        `json:"score" minimum:"0" maximum:"100"`
	Reasoning      string         `json:"reasoning,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

type RegisterContributorRequest struct {
	Address string `json:"address"`
}

type DevLoginRequest struct {
	Subject string `json:"subject"`
}

// Response payloads

type ContributionStatusResponse struct {
	ContributionID    string   `json:"contribution_id"`
	Status            string   `json:"status"`
	QualityScore      *float64 `json:"quality_score,omitempty"`
	VerificationCount int      `json:"verification_count"`
	RewardAmount      *float64 `json:"reward_amount,omitempty"`
	UpdatedAt         string   `json:"updated_at" format:"date-time"`
}

type RewardEstimateResponse struct {
	QualityScore    float64 `json:"quality_score"`
	Type            string  `json:"type"`
	ReputationBonus float64 `json:"reputation_bonus"`
	Amount          float64 `json:"amount"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func statusResponse(c domain.Contribution) ContributionStatusResponse {
	return ContributionStatusResponse{
		ContributionID:    c.ID,
		Status:            c.Status,
		QualityScore:      c.QualityScore,
		VerificationCount: c.VerificationCount,
		RewardAmount:      c.RewardAmount,
		UpdatedAt:         c.UpdatedAt,
	}
}
