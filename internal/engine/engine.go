package engine

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"meritflow/internal/config"
	"meritflow/internal/domain"
	"meritflow/internal/events"
	"meritflow/internal/repo"
	"meritflow/internal/reward"
)

// Engine coordinates the verification workflow: ledger append, counter
// increment, consensus recomputation and decision write-back happen in one
// transaction per submission.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Reward reward.Calculator
	Now    func() time.Time

	locks *keyedLocks
}

func New(db *sql.DB, cfg *config.Config) Engine {
	e := Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		locks:  newKeyedLocks(),
	}
	if cfg != nil {
		e.Reward = reward.Calculator{
			Base:              cfg.Reward.Base,
			ComplexityWeights: cfg.Reward.ComplexityWeights,
		}
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// keyedLocks serializes submissions per contribution. Different
// contributions proceed in parallel; two submissions for the same one never
// race on the counter or the decision write-back.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: map[string]*sync.Mutex{}}
}

func (k *keyedLocks) forKey(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	return l
}

// HashContent returns the SHA-256 hex digest used as a contribution's
// content hash.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func validContributionType(t string) bool {
	switch t {
	case domain.TypeCode, domain.TypeDataset, domain.TypeDocument, domain.TypeOther:
		return true
	}
	return false
}

// ContributionCreateOptions are parameters for submitting an artifact.
type ContributionCreateOptions struct {
	Submitter   string
	Type        string
	Metadata    domain.ContributionMetadata
	ContentHash string
	StorageRef  string
}

func (e Engine) CreateContribution(ctx context.Context, opts ContributionCreateOptions) (domain.Contribution, error) {
	if e.Config == nil {
		return domain.Contribution{}, errors.New("config not loaded")
	}
	if opts.Submitter == "" {
		return domain.Contribution{}, repo.ValidationError{Field: "submitter", Reason: "required"}
	}
	if !validContributionType(opts.Type) {
		return domain.Contribution{}, repo.ValidationError{Field: "type", Reason: "must be code, dataset, document or other"}
	}
	if opts.Metadata.Title == "" {
		return domain.Contribution{}, repo.ValidationError{Field: "metadata.title", Reason: "required"}
	}
	if opts.ContentHash == "" {
		return domain.Contribution{}, repo.ValidationError{Field: "content_hash", Reason: "required"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Contribution{
		ID:          newID("contrib"),
		Submitter:   opts.Submitter,
		Type:        opts.Type,
		Metadata:    opts.Metadata,
		ContentHash: opts.ContentHash,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.StorageRef != "" {
		c.StorageRef = &opts.StorageRef
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contribution{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertContributionTx(ctx, tx, c); err != nil {
		return domain.Contribution{}, fmt.Errorf("insert contribution: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "contribution.created", "contribution", c.ID, c.Submitter, events.EventPayload{
		"type":         c.Type,
		"content_hash": c.ContentHash,
	}); err != nil {
		return domain.Contribution{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contribution{}, err
	}
	return c, nil
}

// VerificationSubmitOptions carry one agent's scored judgment.
type VerificationSubmitOptions struct {
	ContributionID string
	AgentID        string
	Vote           string
	Score          float64
	Reasoning      string
	Details        map[string]any
}

// SubmitVerification records the verification, increments the counter,
// recomputes consensus and applies the decision, all atomically. A missing
// contribution fails with repo.ErrNotFound before anything is written.
func (e Engine) SubmitVerification(ctx context.Context, opts VerificationSubmitOptions) (domain.Verification, error) {
	if e.Config == nil {
		return domain.Verification{}, errors.New("config not loaded")
	}
	if opts.AgentID == "" {
		return domain.Verification{}, repo.ValidationError{Field: "agent_id", Reason: "required"}
	}
	if !e.Config.KnownAgent(opts.AgentID) {
		return domain.Verification{}, repo.ValidationError{Field: "agent_id", Reason: "not in agent catalog"}
	}
	if !repo.ValidVote(opts.Vote) {
		return domain.Verification{}, repo.ValidationError{Field: "vote", Reason: "must be approve, reject or abstain"}
	}
	if opts.Score < 0 || opts.Score > 100 {
		return domain.Verification{}, repo.ValidationError{Field: "score", Reason: "must be in [0,100]"}
	}

	mu := e.locks.forKey(opts.ContributionID)
	mu.Lock()
	defer mu.Unlock()

	c, err := e.Repo.GetContribution(ctx, opts.ContributionID)
	if err != nil {
		return domain.Verification{}, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	v := domain.Verification{
		ID:             newID("verif"),
		ContributionID: c.ID,
		AgentID:        opts.AgentID,
		Vote:           opts.Vote,
		Score:          opts.Score,
		Reasoning:      opts.Reasoning,
		Details:        opts.Details,
		CreatedAt:      now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Verification{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertVerificationTx(ctx, tx, v); err != nil {
		return domain.Verification{}, err
	}
	if err := e.Repo.IncrementVerificationCountTx(ctx, tx, c.ID, now); err != nil {
		return domain.Verification{}, err
	}
	if err := e.Events.Append(ctx, tx, "verification.submitted", "verification", v.ID, v.AgentID, events.EventPayload{
		"contribution_id": c.ID,
		"vote":            v.Vote,
		"score":           v.Score,
	}); err != nil {
		return domain.Verification{}, err
	}

	// Terminal states are sticky: late verifications are recorded and
	// counted but never flip an existing decision.
	if !c.Terminal() {
		if err := e.applyConsensusTx(ctx, tx, c, now); err != nil {
			return domain.Verification{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Verification{}, err
	}
	return v, nil
}

// Policy returns the effective consensus policy: the minimum verification
// count and the approval threshold, with defaults applied.
func (e Engine) Policy() (int, float64) {
	minVerifications := 1
	threshold := 0.7
	if e.Config != nil {
		if e.Config.Consensus.MinVerifications > 0 {
			minVerifications = e.Config.Consensus.MinVerifications
		}
		if e.Config.Consensus.Threshold > 0 || e.Config.Consensus.AllowAutoApprove {
			threshold = e.Config.Consensus.Threshold
		}
	}
	return minVerifications, threshold
}

// Compute derives the consensus projection from a verification set. Pure;
// zero verifications yield rate 0 and a pending status.
func Compute(contributionID string, verifications []domain.Verification, minVerifications int, threshold float64) domain.Consensus {
	cons := domain.Consensus{
		ContributionID: contributionID,
		Status:         domain.StatusPending,
	}
	cons.Total = len(verifications)
	if cons.Total == 0 {
		return cons
	}

	var scoreSum float64
	scored := 0
	for _, v := range verifications {
		if v.Vote == domain.VoteApprove {
			cons.Approvals++
		}
		if v.Vote != domain.VoteAbstain {
			scoreSum += v.Score
			scored++
		}
	}
	cons.ApprovalRate = float64(cons.Approvals) / float64(cons.Total)
	if scored > 0 {
		cons.AverageScore = scoreSum / float64(scored)
	}

	if cons.Total < minVerifications {
		return cons
	}
	if cons.ApprovalRate >= threshold {
		cons.Reached = true
		cons.Status = domain.StatusVerified
	} else {
		cons.Status = domain.StatusRejected
	}
	return cons
}

// Consensus returns the current projection for a contribution without side
// effects.
func (e Engine) Consensus(ctx context.Context, contributionID string) (domain.Consensus, error) {
	if _, err := e.Repo.GetContribution(ctx, contributionID); err != nil {
		return domain.Consensus{}, err
	}
	verifications, err := e.Repo.ListVerificationsForContribution(ctx, contributionID)
	if err != nil {
		return domain.Consensus{}, err
	}
	minVerifications, threshold := e.Policy()
	return Compute(contributionID, verifications, minVerifications, threshold), nil
}

// applyConsensusTx recomputes consensus inside the submission transaction
// and writes the decision back to the contribution. Below the minimum count
// the contribution only advances pending -> verifying.
func (e Engine) applyConsensusTx(ctx context.Context, tx *sql.Tx, c domain.Contribution, now string) error {
	verifications, err := e.Repo.ListVerificationsForContributionTx(ctx, tx, c.ID)
	if err != nil {
		return err
	}
	minVerifications, threshold := e.Policy()
	cons := Compute(c.ID, verifications, minVerifications, threshold)

	switch {
	case cons.Reached:
		return e.markVerifiedTx(ctx, tx, c, cons, now)
	case cons.Status == domain.StatusRejected:
		if err := e.Repo.SetContributionStatusTx(ctx, tx, c.ID, domain.StatusRejected, now); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "contribution.rejected", "contribution", c.ID, "consensus", events.EventPayload{
			"approval_rate":       cons.ApprovalRate,
			"total_verifications": cons.Total,
		})
	case c.Status == domain.StatusPending:
		return e.Repo.SetContributionStatusTx(ctx, tx, c.ID, domain.StatusVerifying, now)
	}
	return nil
}

func (e Engine) markVerifiedTx(ctx context.Context, tx *sql.Tx, c domain.Contribution, cons domain.Consensus, now string) error {
	if err := e.Repo.SetContributionStatusTx(ctx, tx, c.ID, domain.StatusVerified, now); err != nil {
		return err
	}
	if err := e.Repo.SetQualityScoreTx(ctx, tx, c.ID, cons.AverageScore, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "contribution.verified", "contribution", c.ID, "consensus", events.EventPayload{
		"quality_score":       cons.AverageScore,
		"approval_rate":       cons.ApprovalRate,
		"total_verifications": cons.Total,
	}); err != nil {
		return err
	}

	// Reputation feeds the reward only for registered contributors; an
	// unknown submitter still earns the base formula.
	bonus := 0.0
	contributor, err := e.Repo.GetContributorByAddressTx(ctx, tx, c.Submitter)
	switch {
	case err == nil:
		stats, err := e.Repo.ContributorStatsTx(ctx, tx, c.Submitter)
		if err != nil {
			return err
		}
		bonus = reward.ReputationBonus(stats.TotalContributions, stats.AverageQuality, stats.ReputationScore)
		if err := e.Repo.AddReputationTx(ctx, tx, contributor.ID, 1.0); err != nil {
			return err
		}
	case errors.Is(err, repo.ErrNotFound):
		// keep zero bonus
	default:
		return err
	}

	amount := e.Reward.Amount(cons.AverageScore, c.Type, bonus)
	if err := e.Repo.SetRewardAmountTx(ctx, tx, c.ID, amount, now); err != nil {
		return err
	}
	return e.Events.Append(ctx, tx, "reward.granted", "contribution", c.ID, "consensus", events.EventPayload{
		"amount":           amount,
		"reputation_bonus": bonus,
	})
}

// RegisterContributor adds a contributor keyed by wallet address. A known
// address fails with repo.ConflictError.
func (e Engine) RegisterContributor(ctx context.Context, address string) (domain.Contributor, error) {
	if strings.TrimSpace(address) == "" {
		return domain.Contributor{}, repo.ValidationError{Field: "address", Reason: "required"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Contributor{
		ID:       newID("contrbtr"),
		Address:  strings.TrimSpace(address),
		JoinedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contributor{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertContributorTx(ctx, tx, c); err != nil {
		return domain.Contributor{}, err
	}
	if err := e.Events.Append(ctx, tx, "contributor.registered", "contributor", c.ID, c.Address, nil); err != nil {
		return domain.Contributor{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contributor{}, err
	}
	return c, nil
}
