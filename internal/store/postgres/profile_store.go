package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/narrativebet/internal/domain"
)

// ProfileStore implements domain.ProfileStore on psychic_profiles.
type ProfileStore struct {
	pool *pgxpool.Pool
}

// NewProfileStore creates a new ProfileStore backed by the given pool.
func NewProfileStore(pool *pgxpool.Pool) *ProfileStore {
	return &ProfileStore{pool: pool}
}

const profileSelectCols = `address, score, contrary_wins, total_bets, badge, updated_at`

func scanProfile(row pgx.Row) (domain.PsychicProfile, error) {
	var (
		p     domain.PsychicProfile
		badge string
	)
	if err := row.Scan(&p.Address, &p.Score, &p.ContraryWins, &p.TotalBets, &badge, &p.UpdatedAt); err != nil {
		return domain.PsychicProfile{}, err
	}
	p.Badge = domain.Badge(badge)
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

// Get returns the profile for address or domain.ErrNotFound.
func (s *ProfileStore) Get(ctx context.Context, address string) (domain.PsychicProfile, error) {
	query := `SELECT ` + profileSelectCols + ` FROM psychic_profiles WHERE address = $1`
	p, err := scanProfile(s.pool.QueryRow(ctx, query, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PsychicProfile{}, domain.ErrNotFound
		}
		return domain.PsychicProfile{}, fmt.Errorf("postgres: get profile %s: %w", address, err)
	}
	return p, nil
}

// Upsert writes p. The badge is recomputed from the score on write.
func (s *ProfileStore) Upsert(ctx context.Context, p domain.PsychicProfile) error {
	const query = `
		INSERT INTO psychic_profiles (address, score, contrary_wins, total_bets, badge, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address) DO UPDATE SET
			score = EXCLUDED.score,
			contrary_wins = EXCLUDED.contrary_wins,
			total_bets = EXCLUDED.total_bets,
			badge = EXCLUDED.badge,
			updated_at = EXCLUDED.updated_at`

	badge := domain.BadgeFor(p.Score)
	if _, err := s.pool.Exec(ctx, query, p.Address, p.Score, p.ContraryWins, p.TotalBets, string(badge), p.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: upsert profile %s: %w", p.Address, err)
	}
	return nil
}

// Top returns up to limit profiles by descending score.
func (s *ProfileStore) Top(ctx context.Context, limit int) ([]domain.PsychicProfile, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT ` + profileSelectCols + ` FROM psychic_profiles ORDER BY score DESC, address LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: top profiles: %w", err)
	}
	defer rows.Close()

	var out []domain.PsychicProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan profile: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: top profiles rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.ProfileStore = (*ProfileStore)(nil)
