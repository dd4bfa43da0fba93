package suppress

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/resolvix/collector/internal/model"
)

// Store is the read side of the externally-owned rule database plus the
// one write the collector is allowed: bumping match counters.
type Store interface {
	ActiveRules(ctx context.Context) ([]model.SuppressionRule, error)
	RecordMatch(ctx context.Context, ruleID int64) error
	Close() error
}

// DBConfig addresses the rule store. All fields are required; the daemon
// disables suppression entirely when any is missing.
type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

// Complete reports whether every connection field is set.
func (c DBConfig) Complete() bool {
	return c.Host != "" && c.Port != 0 && c.Name != "" && c.User != "" && c.Password != ""
}

// sqlStore queries suppression rules over database/sql.
type sqlStore struct {
	db *sql.DB
}

// OpenStore connects to the rule database. The pool is kept small: the
// collector issues one refresh query per TTL and occasional counter bumps.
func OpenStore(cfg DBConfig) (Store, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=prefer",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open rule store: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &sqlStore{db: db}, nil
}

const activeRulesQuery = `
SELECT id, name, match_text, node_ip, duration_type, expires_at, enabled, match_count, last_matched_at
FROM suppression_rules
WHERE enabled = true
  AND (expires_at IS NULL OR expires_at > now())
ORDER BY id ASC`

func (s *sqlStore) ActiveRules(ctx context.Context) ([]model.SuppressionRule, error) {
	rows, err := s.db.QueryContext(ctx, activeRulesQuery)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []model.SuppressionRule
	for rows.Next() {
		var r model.SuppressionRule
		var nodeIP sql.NullString
		var expires, lastMatched sql.NullTime
		if err := rows.Scan(&r.ID, &r.Name, &r.MatchText, &nodeIP, &r.DurationType,
			&expires, &r.Enabled, &r.MatchCount, &lastMatched); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if nodeIP.Valid {
			v := nodeIP.String
			r.NodeIP = &v
		}
		if expires.Valid {
			v := expires.Time
			r.ExpiresAt = &v
		}
		if lastMatched.Valid {
			v := lastMatched.Time
			r.LastMatchedAt = &v
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *sqlStore) RecordMatch(ctx context.Context, ruleID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE suppression_rules SET match_count = match_count + 1, last_matched_at = now() WHERE id = $1`,
		ruleID)
	if err != nil {
		return fmt.Errorf("record match for rule %d: %w", ruleID, err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
