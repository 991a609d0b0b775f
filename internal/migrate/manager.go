package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const defaultMigrationsTable = "schema_migrations"

//go:embed sql/*.sql
var embedded embed.FS

// Files returns the migrations shipped with the binary.
func Files() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// ErrNothingApplied is returned by Down when no migration has been applied.
var ErrNothingApplied = errors.New("no migrations applied")

// Manager executes SQL migrations read from a filesystem.
type Manager struct {
	db              *sql.DB
	files           fs.FS
	migrationsTable string
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithFiles replaces the embedded migrations, e.g. with os.DirFS.
func WithFiles(files fs.FS) Option {
	return func(m *Manager) {
		if files != nil {
			m.files = files
		}
	}
}

// NewManager constructs a Manager over the embedded migrations.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		files:           Files(),
		migrationsTable: defaultMigrationsTable,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations and returns the names it applied.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	executed, err := m.listExecuted(ctx)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(m.files, ".up.sql")
	if err != nil {
		return nil, err
	}
	var applied []string
	for _, name := range files {
		if executed[name] {
			continue
		}
		if err := m.exec(ctx, name); err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", name, err)
		}
		if err := m.insertRecord(ctx, name); err != nil {
			return applied, err
		}
		applied = append(applied, name)
	}
	return applied, nil
}

// Down rolls back the most recent applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return "", err
	}
	executed, err := m.history(ctx)
	if err != nil {
		return "", err
	}
	if len(executed) == 0 {
		return "", ErrNothingApplied
	}
	last := executed[len(executed)-1]
	down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	if _, err := fs.Stat(m.files, down); err != nil {
		return "", fmt.Errorf("missing down migration for %s", last)
	}
	if err := m.exec(ctx, down); err != nil {
		return "", fmt.Errorf("rollback migration %s: %w", last, err)
	}
	if _, err := m.db.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable), last); err != nil {
		return "", err
	}
	return last, nil
}

// Status returns ordered applied migrations.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	return m.history(ctx)
}

// Pending returns migrations present in the filesystem but not yet applied.
func (m *Manager) Pending(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	executed, err := m.listExecuted(ctx)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(m.files, ".up.sql")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range files {
		if !executed[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

func (m *Manager) ensureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		);`, m.migrationsTable)
	_, err := m.db.ExecContext(ctx, ddl)
	return err
}

func (m *Manager) exec(ctx context.Context, name string) error {
	sqlBytes, err := fs.ReadFile(m.files, name)
	if err != nil {
		return err
	}
	statements := splitStatements(string(sqlBytes))
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *Manager) insertRecord(ctx context.Context, name string) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, m.migrationsTable),
		name, time.Now().UTC())
	return err
}

func (m *Manager) listExecuted(ctx context.Context) (map[string]bool, error) {
	names, err := m.history(ctx)
	if err != nil {
		return nil, err
	}
	result := make(map[string]bool, len(names))
	for _, name := range names {
		result[name] = true
	}
	return result, nil
}

func (m *Manager) history(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, m.migrationsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

func collectSQL(files fs.FS, suffix string) ([]string, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		names = append(names, path.Base(e.Name()))
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements naively splits SQL by semicolon, skipping quoted strings
// and line comments.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	var inString, inComment bool
	var prev rune
	for _, r := range sql {
		switch {
		case inComment:
			current.WriteRune(r)
			if r == '\n' {
				inComment = false
			}
		case r == '-' && prev == '-' && !inString:
			current.WriteRune(r)
			inComment = true
		case r == '\'':
			current.WriteRune(r)
			inString = !inString
		case r == ';' && !inString:
			current.WriteRune(r)
			stmts = append(stmts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
		prev = r
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
