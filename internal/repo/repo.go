package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"meritflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ValidationError reports input outside its contractual range. It is
// propagated to the caller unchanged; nothing in the store clamps or
// corrects values.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError reports a uniqueness violation, e.g. registering an already
// known contributor address.
type ConflictError struct {
	Resource string
	Key      string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Resource, e.Key)
}

const contributionColumns = `id, submitter, type, metadata_json, content_hash, storage_ref, status, quality_score, verification_count, reward_amount, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContribution(row rowScanner) (domain.Contribution, error) {
	var c domain.Contribution
	var metadata string
	var storageRef sql.NullString
	var quality, reward sql.NullFloat64
	err := row.Scan(&c.ID, &c.Submitter, &c.Type, &metadata, &c.ContentHash, &storageRef,
		&c.Status, &quality, &c.VerificationCount, &reward, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(metadata), &c.Metadata); err != nil {
		return c, fmt.Errorf("decode contribution metadata: %w", err)
	}
	if storageRef.Valid {
		c.StorageRef = &storageRef.String
	}
	if quality.Valid {
		c.QualityScore = &quality.Float64
	}
	if reward.Valid {
		c.RewardAmount = &reward.Float64
	}
	return c, nil
}

func (r Repo) InsertContributionTx(ctx context.Context, tx *sql.Tx, c domain.Contribution) error {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("encode contribution metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO contributions(`+contributionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Submitter, c.Type, string(metadata), c.ContentHash, nullableStringPtr(c.StorageRef),
		c.Status, nullableFloatPtr(c.QualityScore), c.VerificationCount, nullableFloatPtr(c.RewardAmount),
		c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetContribution(ctx context.Context, id string) (domain.Contribution, error) {
	return scanContribution(r.DB.QueryRowContext(ctx, `SELECT `+contributionColumns+` FROM contributions WHERE id=?`, id))
}

// ContributionFilter narrows ListContributions; empty fields match all.
type ContributionFilter struct {
	Submitter string
	Status    string
}

// ListContributions returns contributions ordered by created_at descending.
// No matches yields an empty slice, not an error.
func (r Repo) ListContributions(ctx context.Context, filter ContributionFilter, limit int) ([]domain.Contribution, error) {
	var clauses []string
	var args []any
	if filter.Submitter != "" {
		clauses = append(clauses, "submitter=?")
		args = append(args, filter.Submitter)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, filter.Status)
	}
	query := `SELECT ` + contributionColumns + ` FROM contributions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Contribution{}
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// SetContributionStatusTx updates status and updated_at. Transition legality
// is the consensus engine's responsibility, not the store's.
func (r Repo) SetContributionStatusTx(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE contributions SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetQualityScoreTx updates the quality score. Out-of-range scores are an
// error, never clamped.
func (r Repo) SetQualityScoreTx(ctx context.Context, tx *sql.Tx, id string, score float64, updatedAt string) error {
	if score < 0 || score > 100 {
		return ValidationError{Field: "quality_score", Reason: "must be in [0,100]"}
	}
	res, err := tx.ExecContext(ctx, `UPDATE contributions SET quality_score=?, updated_at=? WHERE id=?`, score, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetRewardAmountTx(ctx context.Context, tx *sql.Tx, id string, amount float64, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE contributions SET reward_amount=?, updated_at=? WHERE id=?`, amount, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementVerificationCountTx bumps the counter atomically in SQL so the
// count never regresses.
func (r Repo) IncrementVerificationCountTx(ctx context.Context, tx *sql.Tx, id, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE contributions SET verification_count=verification_count+1, updated_at=? WHERE id=?`, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountContributionsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM contributions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
