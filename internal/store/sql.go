package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ocx/uaal/internal/analysis"
)

// Dialect covers the SQL differences between the supported databases.
type Dialect struct {
	Driver     string
	IDColumn   string
	Ordinal    func(n int) string
	TimeColumn string
}

var (
	Postgres = Dialect{
		Driver:     "postgres",
		IDColumn:   "id BIGSERIAL PRIMARY KEY",
		Ordinal:    func(n int) string { return fmt.Sprintf("$%d", n) },
		TimeColumn: "TIMESTAMPTZ",
	}
	SQLite = Dialect{
		Driver:     "sqlite",
		IDColumn:   "id INTEGER PRIMARY KEY AUTOINCREMENT",
		Ordinal:    func(int) string { return "?" },
		TimeColumn: "TIMESTAMP",
	}
)

// DialectFor returns the dialect registered for kind.
func DialectFor(kind string) (Dialect, error) {
	switch kind {
	case "postgres":
		return Postgres, nil
	case "sqlite":
		return SQLite, nil
	}
	return Dialect{}, fmt.Errorf("unsupported store kind %q", kind)
}

// SQLStore appends records to the intent_analyses table. The full record
// is kept as JSON; the indexed columns exist for ad-hoc queries.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	insert  string
}

// OpenSQL opens dsn with the driver for kind and creates the schema.
func OpenSQL(ctx context.Context, kind, dsn string) (*SQLStore, error) {
	d, err := DialectFor(kind)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", d.Driver, err)
	}
	if d.Driver == "sqlite" {
		// a single connection keeps :memory: databases alive and serializes writers
		db.SetMaxOpenConns(1)
	}

	s := NewSQLStore(db, d)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("Analysis store ready", "kind", kind)
	return s, nil
}

// NewSQLStore wraps an open database. Call Migrate before first use.
func NewSQLStore(db *sql.DB, d Dialect) *SQLStore {
	cols := []string{"recorded_at", "user_id", "action", "core_intent_hash", "payload_hash",
		"policy_decision", "risk_level", "outcome", "record"}
	params := make([]string, len(cols))
	for i := range cols {
		params[i] = d.Ordinal(i + 1)
	}
	insert := fmt.Sprintf("INSERT INTO intent_analyses (%s) VALUES (%s)",
		strings.Join(cols, ", "), strings.Join(params, ", "))

	return &SQLStore{db: db, dialect: d, insert: insert}
}

// Migrate creates the table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS intent_analyses (
	%s,
	recorded_at %s NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	core_intent_hash TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	policy_decision TEXT NOT NULL,
	risk_level TEXT NOT NULL,
	outcome TEXT NOT NULL,
	record TEXT NOT NULL
)`, s.dialect.IDColumn, s.dialect.TimeColumn)

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create intent_analyses: %w", err)
	}
	return nil
}

func (s *SQLStore) Append(ctx context.Context, rec analysis.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.insert,
		rec.Timestamp.UTC(),
		rec.UserID,
		rec.Action(),
		rec.CoreIntentHash,
		rec.PayloadHash,
		string(rec.PolicyDecision),
		rec.RiskLevel.String(),
		string(rec.Outcome),
		string(raw),
	)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]analysis.Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT record FROM intent_analyses ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	defer rows.Close()

	var out []analysis.Record
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		var rec analysis.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode analysis: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM intent_analyses").Scan(&n); err != nil {
		return 0, fmt.Errorf("count analyses: %w", err)
	}
	return n, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
