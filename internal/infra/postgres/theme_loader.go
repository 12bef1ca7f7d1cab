package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

// ThemeLoader loads the successor theme list from Postgres.
type ThemeLoader struct {
	pool *pgxpool.Pool
}

func NewThemeLoader(pool *pgxpool.Pool) *ThemeLoader {
	return &ThemeLoader{pool: pool}
}

func (l *ThemeLoader) LoadThemes(ctx context.Context) ([]string, error) {
	rows, err := l.pool.Query(ctx, `SELECT theme FROM themes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load themes: %w", err)
	}
	defer rows.Close()

	var themes []string
	for rows.Next() {
		var theme string
		if err := rows.Scan(&theme); err != nil {
			return nil, fmt.Errorf("scan theme: %w", err)
		}
		themes = append(themes, theme)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load themes: %w", err)
	}
	return themes, nil
}
