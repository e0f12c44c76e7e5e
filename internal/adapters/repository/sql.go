package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers "sqlite"

	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/metrics"
)

//go:embed migrations
var migrations embed.FS

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverPgx    = "pgx"
)

const issuesTable = "issues"

var issueColumns = []string{
	"id", "category", "description", "lat", "lng", "embedding",
	"created_at", "status", "upvotes", "priority",
}

// SQLStore persists issues through database/sql. SQLite and PostgreSQL
// differ only in placeholders, row locking and the migration set.
type SQLStore struct {
	db     *sql.DB
	driver string
	qb     sq.StatementBuilderType
	log    logger.Logger
}

// Open returns the store selected by driver. The memory driver ignores dsn.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (IssueStore, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite, DriverPgx:
		return NewSQLStore(ctx, driver, dsn, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// NewSQLStore opens the database and applies pending migrations.
func NewSQLStore(ctx context.Context, driver, dsn string, opts ...Option) (*SQLStore, error) {
	var (
		dialect goose.Dialect
		dir     string
		format  sq.PlaceholderFormat
	)
	switch driver {
	case DriverSQLite:
		dialect, dir, format = goose.DialectSQLite3, "migrations/sqlite", sq.Question
	case DriverPgx:
		dialect, dir, format = goose.DialectPostgres, "migrations/postgres", sq.Dollar
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one connection: an in-memory database is per connection, and
		// SQLite serializes writers anyway
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &SQLStore{
		db:     db,
		driver: driver,
		qb:     sq.StatementBuilder.PlaceholderFormat(format),
		log:    logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(ctx, dialect, dir); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context, dialect goose.Dialect, dir string) error {
	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	provider, err := goose.NewProvider(dialect, s.db, fsys)
	if err != nil {
		return fmt.Errorf("goose new provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	for _, r := range results {
		s.log.Info(ctx, "applied migration",
			logger.String("driver", s.driver),
			logger.String("source", r.Source.Path),
			logger.Duration("took", r.Duration))
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Create(ctx context.Context, issue model.Issue) error {
	defer observe(s.driver, "create", time.Now())
	query, args, err := s.qb.Insert(issuesTable).
		Columns(issueColumns...).
		Values(issue.ID, string(issue.Category), issue.Description, issue.Lat, issue.Lng,
			encodeVector(issue.Embedding), issue.CreatedAt.UnixNano(), string(issue.Status),
			issue.Upvotes, issue.Priority).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if _, getErr := s.Get(ctx, issue.ID); getErr == nil {
			return ErrExists
		}
		return s.fail("create", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (model.Issue, error) {
	defer observe(s.driver, "get", time.Now())
	return s.get(ctx, s.db, id, false)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) get(ctx context.Context, q queryer, id string, forUpdate bool) (model.Issue, error) {
	b := s.qb.Select(issueColumns...).From(issuesTable).Where(sq.Eq{"id": id})
	if forUpdate && s.driver == DriverPgx {
		b = b.Suffix("FOR UPDATE")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return model.Issue{}, fmt.Errorf("build select: %w", err)
	}
	is, err := scanIssue(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Issue{}, ErrNotFound
	}
	if err != nil {
		return model.Issue{}, s.fail("get", err)
	}
	return is, nil
}

func (s *SQLStore) Update(ctx context.Context, id string, fn func(*model.Issue) error) (model.Issue, error) {
	defer observe(s.driver, "update", time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Issue{}, s.fail("update", err)
	}
	defer func() { _ = tx.Rollback() }()

	is, err := s.get(ctx, tx, id, true)
	if err != nil {
		return model.Issue{}, err
	}
	if err := fn(&is); err != nil {
		return model.Issue{}, err
	}
	is.ID = id

	query, args, err := s.qb.Update(issuesTable).
		Set("category", string(is.Category)).
		Set("description", is.Description).
		Set("embedding", encodeVector(is.Embedding)).
		Set("status", string(is.Status)).
		Set("upvotes", is.Upvotes).
		Set("priority", is.Priority).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return model.Issue{}, fmt.Errorf("build update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return model.Issue{}, s.fail("update", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Issue{}, s.fail("update", err)
	}
	return is, nil
}

func (s *SQLStore) List(ctx context.Context) ([]model.Issue, error) {
	defer observe(s.driver, "list", time.Now())
	query, args, err := s.qb.Select(issueColumns...).From(issuesTable).OrderBy("created_at ASC", "id ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail("list", err)
	}
	defer rows.Close()

	var out []model.Issue
	for rows.Next() {
		is, err := scanIssue(rows)
		if err != nil {
			return nil, s.fail("list", err)
		}
		out = append(out, is)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list", err)
	}
	return out, nil
}

func (s *SQLStore) Count(ctx context.Context) (int, int, error) {
	query, args, err := s.qb.Select("COUNT(*)").
		Column(sq.Expr("COALESCE(SUM(CASE WHEN status <> ? THEN 1 ELSE 0 END), 0)", string(model.StatusResolved))).
		From(issuesTable).
		ToSql()
	if err != nil {
		return 0, 0, fmt.Errorf("build count: %w", err)
	}
	var total, open int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total, &open); err != nil {
		return 0, 0, s.fail("count", err)
	}
	return total, open, nil
}

func (s *SQLStore) fail(op string, err error) error {
	metrics.RecordStoreError(s.driver, op)
	return fmt.Errorf("%s %s: %w", s.driver, op, err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIssue(row scanner) (model.Issue, error) {
	var (
		is        model.Issue
		category  string
		status    string
		embedding []byte
		created   int64
	)
	err := row.Scan(&is.ID, &category, &is.Description, &is.Lat, &is.Lng, &embedding,
		&created, &status, &is.Upvotes, &is.Priority)
	if err != nil {
		return model.Issue{}, err
	}
	is.Category = model.Category(category)
	is.Status = model.Status(status)
	is.CreatedAt = time.Unix(0, created).UTC()
	is.Embedding = decodeVector(embedding)
	return is, nil
}

// encodeVector packs a vector as little-endian float32s; nil stays NULL.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
