package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"outcome-engine/internal/domain"
)

// ExperienceRepositoryPG resolves outcome configuration documents. Outcome
// JSON decodes through domain.Outcome's custom unmarshaller, so legacy
// flat records and unknown fields stay readable.
type ExperienceRepositoryPG struct {
	pool *pgxpool.Pool
}

func NewExperienceRepository(pool *pgxpool.Pool) *ExperienceRepositoryPG {
	return &ExperienceRepositoryPG{pool: pool}
}

// GetOutcome fetches the configured outcome for an experience. A NULL
// outcome column decodes to an unconfigured Outcome (empty type).
func (r *ExperienceRepositoryPG) GetOutcome(ctx context.Context, projectID, experienceID string) (*domain.Outcome, error) {
	query := `
SELECT outcome
FROM experiences
WHERE project_id = $1 AND id = $2;
`
	var raw []byte
	if err := r.pool.QueryRow(ctx, query, projectID, experienceID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	var outcome domain.Outcome
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &outcome); err != nil {
			return nil, fmt.Errorf("decode outcome: %w", err)
		}
	}
	return &outcome, nil
}

var _ domain.ExperienceRepository = (*ExperienceRepositoryPG)(nil)
