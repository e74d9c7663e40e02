package repository

import (
	"context"
	"database/sql"
	"embed"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/okian/popstats/internal/domain/model"
	"github.com/okian/popstats/pkg/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQL dialects understood by SQLStore.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// SQLStore is a Store on SQLite or PostgreSQL. It also serves the
// content_items catalog as an eligibility resolver.
type SQLStore struct {
	db      *sql.DB
	dialect string
	log     logger.Logger
}

// OpenSQL connects to dsn with the driver for dialect and applies migrations.
func OpenSQL(ctx context.Context, dialect, dsn string, opts ...Option) (*SQLStore, error) {
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, errors.Errorf("unsupported sql dialect %q", dialect)
	}
	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, storeErr(err, "open %s", dialect)
	}
	if dialect == DialectSQLite {
		// One connection serializes writers and keeps :memory: databases whole.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, storeErr(err, "%s", pragma)
			}
		}
	}
	s, err := NewSQLStore(db, dialect, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database and applies migrations.
func NewSQLStore(db *sql.DB, dialect string, opts ...Option) (*SQLStore, error) {
	st := newSettings(opts)
	s := &SQLStore{db: db, dialect: dialect, log: st.log}
	n, err := s.migrateUp()
	if err != nil {
		return nil, storeErr(err, "migrate")
	}
	s.log.Info(context.Background(), "sql store ready",
		logger.String("dialect", dialect), logger.Int("migrations_applied", n))
	return s, nil
}

func (s *SQLStore) migrateUp() (int, error) {
	source := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationsFS,
		Root:       "migrations",
	}
	dialect := s.dialect
	if dialect == DialectSQLite {
		dialect = "sqlite3"
	}
	return migrate.Exec(s.db, dialect, source, migrate.Up)
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind turns ? placeholders into $n for postgres.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const upsertRank = `INSERT INTO item_ranks (tag, item_id, item_rank) VALUES (?, ?, ?)
ON CONFLICT (tag, item_id) DO UPDATE SET item_rank = excluded.item_rank`

// ClearAll implements Store.
func (s *SQLStore) ClearAll(ctx context.Context, tag string) (err error) {
	defer observe("clear_all", time.Now(), &err)
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM item_ranks WHERE tag = ?`), tag); err != nil {
		return storeErr(err, "clear %s", tag)
	}
	return nil
}

// SetRank implements Store.
func (s *SQLStore) SetRank(ctx context.Context, itemID string, rank int, tag string) (err error) {
	defer observe("set_rank", time.Now(), &err)
	if rank < 1 {
		return ErrInvalidRank
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(upsertRank), tag, itemID, rank); err != nil {
		return storeErr(err, "set rank %s/%s", tag, itemID)
	}
	return nil
}

// GetRank implements Store.
func (s *SQLStore) GetRank(ctx context.Context, itemID, tag string) (_ int, err error) {
	defer observe("get_rank", time.Now(), &err)
	var rank int
	err = s.db.QueryRowContext(ctx,
		s.rebind(`SELECT item_rank FROM item_ranks WHERE tag = ? AND item_id = ?`), tag, itemID).Scan(&rank)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, storeErr(err, "get rank %s/%s", tag, itemID)
	}
	return rank, nil
}

// ListByRank implements Store.
func (s *SQLStore) ListByRank(ctx context.Context, tag string, limit int, order Order) (_ []string, err error) {
	defer observe("list_by_rank", time.Now(), &err)
	items, err := s.listRanked(ctx, tag, limit, order)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ItemID
	}
	return ids, nil
}

// ListRanked implements Store. Ids and ranks come from one SELECT.
func (s *SQLStore) ListRanked(ctx context.Context, tag string, limit int, order Order) (_ []model.RankedItem, err error) {
	defer observe("list_ranked", time.Now(), &err)
	return s.listRanked(ctx, tag, limit, order)
}

func (s *SQLStore) listRanked(ctx context.Context, tag string, limit int, order Order) ([]model.RankedItem, error) {
	q := `SELECT item_id, item_rank FROM item_ranks WHERE tag = ? ORDER BY item_rank ASC, item_id ASC`
	if order == Desc {
		q = `SELECT item_id, item_rank FROM item_ranks WHERE tag = ? ORDER BY item_rank DESC, item_id DESC`
	}
	args := []interface{}{tag}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, storeErr(err, "list %s", tag)
	}
	defer func() { _ = rows.Close() }()

	items := []model.RankedItem{}
	for rows.Next() {
		var it model.RankedItem
		if err := rows.Scan(&it.ItemID, &it.Rank); err != nil {
			return nil, storeErr(err, "scan %s", tag)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "list %s", tag)
	}
	return items, nil
}

// Replace implements Store. Delete and inserts share one transaction.
func (s *SQLStore) Replace(ctx context.Context, tag string, items []model.RankedItem) (err error) {
	defer observe("replace", time.Now(), &err)
	for _, it := range items {
		if it.Rank < 1 {
			return ErrInvalidRank
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err, "begin %s", tag)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM item_ranks WHERE tag = ?`), tag); err != nil {
		return storeErr(err, "clear %s", tag)
	}
	if len(items) > 0 {
		stmt, perr := tx.PrepareContext(ctx, s.rebind(upsertRank))
		if perr != nil {
			return storeErr(perr, "prepare %s", tag)
		}
		defer func() { _ = stmt.Close() }()
		for _, it := range items {
			if _, err = stmt.ExecContext(ctx, tag, it.ItemID, it.Rank); err != nil {
				return storeErr(err, "insert %s/%s", tag, it.ItemID)
			}
		}
	}
	if err = tx.Commit(); err != nil {
		return storeErr(err, "commit %s", tag)
	}
	return nil
}

// Count implements Store.
func (s *SQLStore) Count(ctx context.Context, tag string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM item_ranks WHERE tag = ?`), tag).Scan(&n); err != nil {
		return 0, storeErr(err, "count %s", tag)
	}
	return n, nil
}

// UpsertContent implements Catalog.
func (s *SQLStore) UpsertContent(ctx context.Context, itemID, kind string) (err error) {
	defer observe("upsert_content", time.Now(), &err)
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO content_items (item_id, kind) VALUES (?, ?)
ON CONFLICT (item_id) DO UPDATE SET kind = excluded.kind`), itemID, kind)
	if err != nil {
		return storeErr(err, "upsert content %s", itemID)
	}
	return nil
}

// Kind implements Catalog and eligibility.Resolver.
func (s *SQLStore) Kind(ctx context.Context, itemID string) (string, bool, error) {
	var kind string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT kind FROM content_items WHERE item_id = ?`), itemID).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr(err, "kind %s", itemID)
	}
	return kind, true, nil
}
