package postgres

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS repo (
	id BIGSERIAL PRIMARY KEY,
	repo_url TEXT NOT NULL,
	branch TEXT NOT NULL,
	checked_at TIMESTAMPTZ NOT NULL,
	UNIQUE (repo_url, branch)
);

CREATE TABLE IF NOT EXISTS check_result (
	id BIGSERIAL PRIMARY KEY,
	repo_id BIGINT NOT NULL REFERENCES repo(id) ON DELETE CASCADE,
	file_path TEXT NOT NULL,
	line_number INT NOT NULL,
	old_content TEXT NOT NULL,
	new_content TEXT NOT NULL
);
`

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
