package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Analyses table - one row per processed clip
		`CREATE TABLE IF NOT EXISTS analyses (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('running', 'completed', 'cancelled', 'failed')),
			fps REAL NOT NULL DEFAULT 0,
			width INTEGER NOT NULL DEFAULT 0,
			height INTEGER NOT NULL DEFAULT 0,
			meters_per_pixel REAL NOT NULL,
			frame_count INTEGER NOT NULL DEFAULT 0,
			peak_speed_kmh REAL,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Frame records table - per-frame track output, nullable when absent
		`CREATE TABLE IF NOT EXISTS frame_records (
			analysis_id TEXT NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
			frame_index INTEGER NOT NULL,
			timestamp REAL NOT NULL,
			box_x REAL,
			box_y REAL,
			box_w REAL,
			box_h REAL,
			speed_kmh REAL,
			point_x REAL,
			point_y REAL,
			PRIMARY KEY (analysis_id, frame_index)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
