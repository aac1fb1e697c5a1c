package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"meritflow/internal/config"
	"meritflow/internal/db"
	"meritflow/internal/domain"
	"meritflow/internal/engine"
	"meritflow/internal/migrate"
	"meritflow/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T, mutate func(cfg *config.Config)) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func createContribution(t *testing.T, env testEnv, submitter, typ string) domain.Contribution {
	t.Helper()
	c, err := env.Engine.CreateContribution(env.Ctx, engine.ContributionCreateOptions{
		Submitter:   submitter,
		Type:        typ,
		Metadata:    domain.ContributionMetadata{Title: "Gas optimizer"},
		ContentHash: engine.HashContent([]byte("artifact")),
	})
	if err != nil {
		t.Fatalf("create contribution: %v", err)
	}
	return c
}

func submit(t *testing.T, env testEnv, contributionID, vote string, score float64) domain.Verification {
	t.Helper()
	v, err := env.Engine.SubmitVerification(env.Ctx, engine.VerificationSubmitOptions{
		ContributionID: contributionID,
		AgentID:        "agent-alpha",
		Vote:           vote,
		Score:          score,
		Reasoning:      "automated review",
	})
	if err != nil {
		t.Fatalf("submit verification: %v", err)
	}
	return v
}

func TestSingleApproveReachesConsensus(t *testing.T) {
	env := newTestEnv(t, nil)
	c := createContribution(t, env, "0xabc", domain.TypeCode)

	submit(t, env, c.ID, domain.VoteApprove, 85)

	got, err := env.Engine.Repo.GetContribution(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusVerified {
		t.Fatalf("status = %s, want verified", got.Status)
	}
	if got.QualityScore == nil || *got.QualityScore != 85.0 {
		t.Fatalf("quality score = %v, want 85.0", got.QualityScore)
	}
	cons, err := env.Engine.Consensus(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !cons.Reached || cons.Status != domain.StatusVerified || cons.AverageScore != 85.0 {
		t.Fatalf("consensus = %+v, want reached verified avg 85", cons)
	}
}

func TestSingleRejectBelowThreshold(t *testing.T) {
	env := newTestEnv(t, nil)
	c := createContribution(t, env, "0xabc", domain.TypeDocument)

	submit(t, env, c.ID, domain.VoteReject, 40)

	got, err := env.Engine.Repo.GetContribution(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusRejected {
		t.Fatalf("status = %s, want rejected", got.Status)
	}
	if got.QualityScore != nil {
		t.Fatalf("rejected contribution should not carry a quality score, got %v", *got.QualityScore)
	}
	if got.RewardAmount != nil {
		t.Fatalf("rejected contribution should not carry a reward, got %v", *got.RewardAmount)
	}
}

func TestBelowMinimumStaysOpen(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Consensus.MinVerifications = 3
	})
	c := createContribution(t, env, "0xabc", domain.TypeDataset)

	submit(t, env, c.ID, domain.VoteApprove, 90)

	got, err := env.Engine.Repo.GetContribution(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusVerifying {
		t.Fatalf("status = %s, want verifying while below minimum", got.Status)
	}
	cons, err := env.Engine.Consensus(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cons.Reached || cons.Status != domain.StatusPending {
		t.Fatalf("consensus = %+v, want pending", cons)
	}
}

func TestVerificationCountMonotonic(t *testing.T) {
	env := newTestEnv(t, nil)
	c := createContribution(t, env, "0xabc", domain.TypeCode)

	for i := 0; i < 5; i++ {
		submit(t, env, c.ID, domain.VoteApprove, 80)
	}
	got, err := env.Engine.Repo.GetContribution(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.VerificationCount != 5 {
		t.Fatalf("verification count = %d, want 5", got.VerificationCount)
	}
}

func TestTerminalDecisionIsSticky(t *testing.T) {
	env := newTestEnv(t, nil)
	c := createContribution(t, env, "0xabc", domain.TypeCode)

	submit(t, env, c.ID, domain.VoteApprove, 95)
	// a late low-score reject must not flip the decision
	submit(t, env, c.ID, domain.VoteReject, 5)
	submit(t, env, c.ID, domain.VoteReject, 5)

	got, err := env.Engine.Repo.GetContribution(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusVerified {
		t.Fatalf("status = %s, want verified to stick", got.Status)
	}
	if got.QualityScore == nil || *got.QualityScore != 95.0 {
		t.Fatalf("quality score = %v, want 95.0 to stick", got.QualityScore)
	}
	if got.VerificationCount != 3 {
		t.Fatalf("verification count = %d, want 3 (late votes still recorded)", got.VerificationCount)
	}
}

func TestConsensusReadIsIdempotent(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Consensus.MinVerifications = 2
	})
	c := createContribution(t, env, "0xabc", domain.TypeCode)
	submit(t, env, c.ID, domain.VoteApprove, 70)

	first, err := env.Engine.Consensus(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.Consensus(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("consensus changed without writes: %+v vs %+v", first, second)
	}
}

func TestAbstainExcludedFromAverage(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Consensus.MinVerifications = 2
		cfg.Consensus.Threshold = 0.5
	})
	c := createContribution(t, env, "0xabc", domain.TypeCode)

	submit(t, env, c.ID, domain.VoteApprove, 80)
	submit(t, env, c.ID, domain.VoteAbstain, 10)

	got, err := env.Engine.Repo.GetContribution(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusVerified {
		t.Fatalf("status = %s, want verified (1/2 approvals at 0.5 threshold)", got.Status)
	}
	if got.QualityScore == nil || *got.QualityScore != 80.0 {
		t.Fatalf("quality score = %v, want 80.0 (abstain score ignored)", got.QualityScore)
	}
}

func TestSubmitAgainstMissingContribution(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.Engine.SubmitVerification(env.Ctx, engine.VerificationSubmitOptions{
		ContributionID: "contrib_missing",
		AgentID:        "agent-alpha",
		Vote:           domain.VoteApprove,
		Score:          90,
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	// no ledger record may be left behind
	var count int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT COUNT(*) FROM verifications`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("ledger has %d records after failed submission, want 0", count)
	}
}

func TestSubmitOutOfRangeScore(t *testing.T) {
	env := newTestEnv(t, nil)
	c := createContribution(t, env, "0xabc", domain.TypeCode)

	_, err := env.Engine.SubmitVerification(env.Ctx, engine.VerificationSubmitOptions{
		ContributionID: c.ID,
		AgentID:        "agent-alpha",
		Vote:           domain.VoteApprove,
		Score:          150,
	})
	var ve repo.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	got, _ := env.Engine.Repo.GetContribution(env.Ctx, c.ID)
	if got.VerificationCount != 0 {
		t.Fatalf("count incremented by invalid submission")
	}
}

func TestAgentCatalogEnforced(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Agents.Enforce = true
	})
	c := createContribution(t, env, "0xabc", domain.TypeCode)

	_, err := env.Engine.SubmitVerification(env.Ctx, engine.VerificationSubmitOptions{
		ContributionID: c.ID,
		AgentID:        "agent-rogue",
		Vote:           domain.VoteApprove,
		Score:          90,
	})
	var ve repo.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError for unknown agent", err)
	}
}

func TestRewardGrantedOnVerification(t *testing.T) {
	env := newTestEnv(t, nil)
	c := createContribution(t, env, "0xunregistered", domain.TypeCode)

	submit(t, env, c.ID, domain.VoteApprove, 100)

	got, err := env.Engine.Repo.GetContribution(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	// base 10 * multiplier 2.0 * code weight 1.5, no reputation bonus
	if got.RewardAmount == nil || *got.RewardAmount != 30.0 {
		t.Fatalf("reward = %v, want 30.0", got.RewardAmount)
	}
}

func TestRewardIncludesReputationBonus(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.Engine.RegisterContributor(env.Ctx, "0xregistered"); err != nil {
		t.Fatal(err)
	}
	c := createContribution(t, env, "0xregistered", domain.TypeCode)

	submit(t, env, c.ID, domain.VoteApprove, 100)

	got, err := env.Engine.Repo.GetContribution(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	// stats at decision time: 1 contribution, avg quality 100, reputation 0
	// bonus = 0.01 + 0.4 + 0 = 0.41 -> 30 * 1.41 = 42.3
	if got.RewardAmount == nil || *got.RewardAmount != 42.3 {
		t.Fatalf("reward = %v, want 42.3", got.RewardAmount)
	}
	contributor, err := env.Engine.Repo.GetContributorByAddress(env.Ctx, "0xregistered")
	if err != nil {
		t.Fatal(err)
	}
	if contributor.ReputationScore != 1.0 {
		t.Fatalf("reputation = %v, want 1.0 after a verified contribution", contributor.ReputationScore)
	}
}

func TestRegisterContributorConflict(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.Engine.RegisterContributor(env.Ctx, "0xdup"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.RegisterContributor(env.Ctx, "0xdup")
	var ce repo.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
}

func TestListContributionsFilters(t *testing.T) {
	env := newTestEnv(t, nil)
	a := createContribution(t, env, "0xaaa", domain.TypeCode)
	createContribution(t, env, "0xbbb", domain.TypeDocument)
	submit(t, env, a.ID, domain.VoteApprove, 90)

	verified, err := env.Engine.Repo.ListContributions(env.Ctx, repo.ContributionFilter{Status: domain.StatusVerified}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(verified) != 1 || verified[0].ID != a.ID {
		t.Fatalf("verified filter returned %d rows", len(verified))
	}
	none, err := env.Engine.Repo.ListContributions(env.Ctx, repo.ContributionFilter{Submitter: "0xnobody"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("expected empty slice for unmatched filter")
	}
}

func TestEventsAppendedForLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	c := createContribution(t, env, "0xabc", domain.TypeCode)
	submit(t, env, c.ID, domain.VoteApprove, 90)

	events, err := env.Engine.Repo.ListEvents(env.Ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, evt := range events {
		seen[evt.Type] = true
	}
	for _, want := range []string{"contribution.created", "verification.submitted", "contribution.verified", "reward.granted"} {
		if !seen[want] {
			t.Fatalf("missing event %s in %v", want, seen)
		}
	}
}

func TestComputeZeroVerifications(t *testing.T) {
	cons := engine.Compute("contrib_x", nil, 1, 0.7)
	if cons.Reached || cons.ApprovalRate != 0 || cons.Status != domain.StatusPending {
		t.Fatalf("zero-verification consensus = %+v, want pending with rate 0", cons)
	}
}
