package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"meritflow/internal/domain"
)

const verificationColumns = `id, contribution_id, agent_id, vote, score, reasoning, details_json, created_at`

// ValidVote reports whether v is one of the ledger's accepted votes.
func ValidVote(v string) bool {
	switch v {
	case domain.VoteApprove, domain.VoteReject, domain.VoteAbstain:
		return true
	}
	return false
}

func scanVerification(row rowScanner) (domain.Verification, error) {
	var v domain.Verification
	var reasoning sql.NullString
	var details string
	err := row.Scan(&v.ID, &v.ContributionID, &v.AgentID, &v.Vote, &v.Score, &reasoning, &details, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	if reasoning.Valid {
		v.Reasoning = reasoning.String
	}
	if err := json.Unmarshal([]byte(details), &v.Details); err != nil {
		return v, fmt.Errorf("decode verification details: %w", err)
	}
	return v, nil
}

// InsertVerificationTx appends a verification to the ledger. Records are
// immutable once written; there is no update path. The score range is
// enforced here, the contribution's existence by the engine.
func (r Repo) InsertVerificationTx(ctx context.Context, tx *sql.Tx, v domain.Verification) error {
	if v.Score < 0 || v.Score > 100 {
		return ValidationError{Field: "score", Reason: "must be in [0,100]"}
	}
	if !ValidVote(v.Vote) {
		return ValidationError{Field: "vote", Reason: "must be approve, reject or abstain"}
	}
	details := v.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode verification details: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO verifications(`+verificationColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		v.ID, v.ContributionID, v.AgentID, v.Vote, v.Score, nullable(v.Reasoning), string(detailsJSON), v.CreatedAt)
	return err
}

func (r Repo) GetVerification(ctx context.Context, id string) (domain.Verification, error) {
	return scanVerification(r.DB.QueryRowContext(ctx, `SELECT `+verificationColumns+` FROM verifications WHERE id=?`, id))
}

// ListVerificationsForContribution returns the full ledger slice for one
// contribution in insertion order.
func (r Repo) ListVerificationsForContribution(ctx context.Context, contributionID string) ([]domain.Verification, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+verificationColumns+` FROM verifications WHERE contribution_id=? ORDER BY created_at ASC, id ASC`, contributionID)
	if err != nil {
		return nil, err
	}
	return collectVerifications(rows)
}

// ListVerificationsForContributionTx is the in-transaction variant used by
// the consensus recomputation so the decision sees its own ledger append.
func (r Repo) ListVerificationsForContributionTx(ctx context.Context, tx *sql.Tx, contributionID string) ([]domain.Verification, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+verificationColumns+` FROM verifications WHERE contribution_id=? ORDER BY created_at ASC, id ASC`, contributionID)
	if err != nil {
		return nil, err
	}
	return collectVerifications(rows)
}

func collectVerifications(rows *sql.Rows) ([]domain.Verification, error) {
	defer rows.Close()
	res := []domain.Verification{}
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}
