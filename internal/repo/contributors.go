package repo

import (
	"context"
	"database/sql"

	"meritflow/internal/domain"
)

func scanContributor(row rowScanner) (domain.Contributor, error) {
	var c domain.Contributor
	err := row.Scan(&c.ID, &c.Address, &c.ReputationScore, &c.JoinedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// InsertContributorTx registers a contributor. A duplicate address is a
// ConflictError; the address column carries a UNIQUE constraint as backstop.
func (r Repo) InsertContributorTx(ctx context.Context, tx *sql.Tx, c domain.Contributor) error {
	var existing string
	err := tx.QueryRowContext(ctx, `SELECT id FROM contributors WHERE address=?`, c.Address).Scan(&existing)
	if err == nil {
		return ConflictError{Resource: "contributor address", Key: c.Address}
	}
	if err != sql.ErrNoRows {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO contributors(id,address,reputation_score,joined_at) VALUES (?,?,?,?)`,
		c.ID, c.Address, c.ReputationScore, c.JoinedAt)
	return err
}

func (r Repo) GetContributor(ctx context.Context, id string) (domain.Contributor, error) {
	return scanContributor(r.DB.QueryRowContext(ctx, `SELECT id,address,reputation_score,joined_at FROM contributors WHERE id=?`, id))
}

func (r Repo) GetContributorByAddress(ctx context.Context, address string) (domain.Contributor, error) {
	return scanContributor(r.DB.QueryRowContext(ctx, `SELECT id,address,reputation_score,joined_at FROM contributors WHERE address=?`, address))
}

func (r Repo) GetContributorByAddressTx(ctx context.Context, tx *sql.Tx, address string) (domain.Contributor, error) {
	return scanContributor(tx.QueryRowContext(ctx, `SELECT id,address,reputation_score,joined_at FROM contributors WHERE address=?`, address))
}

func (r Repo) ListContributors(ctx context.Context, limit int) ([]domain.Contributor, error) {
	query := `SELECT id,address,reputation_score,joined_at FROM contributors ORDER BY joined_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Contributor{}
	for rows.Next() {
		c, err := scanContributor(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) AddReputationTx(ctx context.Context, tx *sql.Tx, id string, delta float64) error {
	res, err := tx.ExecContext(ctx, `UPDATE contributors SET reputation_score=reputation_score+? WHERE id=?`, delta, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ContributorStats aggregates the contribution history for an address. The
// averages only cover verified contributions, matching the reputation inputs
// the reward calculator expects.
func (r Repo) ContributorStats(ctx context.Context, address string) (domain.ContributorStats, error) {
	c, err := r.GetContributorByAddress(ctx, address)
	if err != nil {
		return domain.ContributorStats{}, err
	}
	return r.statsFor(ctx, r.DB.QueryRowContext, c)
}

// ContributorStatsTx is the in-transaction variant used during reward
// write-back.
func (r Repo) ContributorStatsTx(ctx context.Context, tx *sql.Tx, address string) (domain.ContributorStats, error) {
	c, err := r.GetContributorByAddressTx(ctx, tx, address)
	if err != nil {
		return domain.ContributorStats{}, err
	}
	return r.statsFor(ctx, tx.QueryRowContext, c)
}

type queryRowFunc func(ctx context.Context, query string, args ...any) *sql.Row

func (r Repo) statsFor(ctx context.Context, queryRow queryRowFunc, c domain.Contributor) (domain.ContributorStats, error) {
	stats := domain.ContributorStats{
		ContributorID:   c.ID,
		Address:         c.Address,
		ReputationScore: c.ReputationScore,
	}
	row := queryRow(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status=? THEN 1 ELSE 0 END),0),
		COALESCE(SUM(CASE WHEN status=? THEN 1 ELSE 0 END),0),
		COALESCE(AVG(CASE WHEN status=? THEN quality_score END),0),
		COALESCE(SUM(CASE WHEN status=? THEN reward_amount END),0)
		FROM contributions WHERE submitter=?`,
		domain.StatusVerified, domain.StatusRejected, domain.StatusVerified, domain.StatusVerified, c.Address)
	err := row.Scan(&stats.TotalContributions, &stats.VerifiedCount, &stats.RejectedCount,
		&stats.AverageQuality, &stats.TotalRewards)
	if err != nil {
		return domain.ContributorStats{}, err
	}
	return stats, nil
}
