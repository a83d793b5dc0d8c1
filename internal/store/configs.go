package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"jobmate/discovery-pipeline/internal/model"
)

// LoadActiveConfigs fetches all is_active = true search configs from the DB.
func LoadActiveConfigs(ctx context.Context, pool *pgxpool.Pool) ([]model.SearchConfig, error) {
	rows, err := pool.Query(ctx,
		`SELECT id::text, user_id::text, job_titles, locations,
		        COALESCE(workplace_types, '{}'), COALESCE(red_flags, '{}'),
		        max_applicants, COALESCE(posted_within_days, 7)
		 FROM search_configs
		 WHERE is_active = true`,
	)
	if err != nil {
		return nil, fmt.Errorf("query search_configs: %w", err)
	}
	defer rows.Close()

	var configs []model.SearchConfig
	for rows.Next() {
		var c model.SearchConfig
		if err := rows.Scan(
			&c.ID, &c.UserID, &c.JobTitles, &c.Locations,
			&c.WorkplaceTypes, &c.RedFlags,
			&c.MaxApplicants, &c.PostedWithinDays,
		); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		configs = append(configs, c)
	}

	return configs, rows.Err()
}
