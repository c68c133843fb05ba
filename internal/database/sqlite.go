package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/whrgg/cloud-drive-project/internal/database/migrations"
	"github.com/whrgg/cloud-drive-project/internal/drive"
)

// SQLiteDatabase implements drive.Database on SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

var _ drive.Database = (*SQLiteDatabase)(nil)

// NewSQLiteDatabase opens the catalog at path. path may be ":memory:".
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an already configured connection.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens a SQLite connection with foreign keys enabled.
// The pool holds a single connection: it keeps ":memory:" databases alive.
// Transactions begin IMMEDIATE, so a write transaction holds the database
// write lock from its first statement and other connections to the same
// file wait up to the busy timeout.
func OpenConnection(path string) (*sql.DB, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", path+sep+"_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return db, nil
}

// Path is the file the catalog lives in, empty for wrapped connections.
func (s *SQLiteDatabase) Path() string { return s.path }

// Migrate applies pending schema migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the schema is at the version this binary expects.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// BackupTo writes a consistent copy of the catalog to path.
func (s *SQLiteDatabase) BackupTo(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("snapshotting catalog: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) Close() error {
	return s.db.Close()
}

// inTx runs fn in a write transaction and commits it when fn succeeds.
func (s *SQLiteDatabase) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Content operations

const contentColumns = `id, hash, storage_key, size, media_type, ref_count, status, created_at, updated_at`

func scanContent(row scanner) (*drive.Content, error) {
	var c drive.Content
	var status string
	if err := row.Scan(&c.ID, &c.Hash, &c.StorageKey, &c.Size, &c.MediaType, &c.RefCount, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = drive.ContentStatus(status)
	return &c, nil
}

func (s *SQLiteDatabase) findContent(ctx context.Context, where string, arg any) (*drive.Content, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM contents WHERE `+where, arg)
	c, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	return c, nil
}

func (s *SQLiteDatabase) FindContentByHash(ctx context.Context, hash string) (*drive.Content, error) {
	return s.findContent(ctx, "hash = ?", hash)
}

func (s *SQLiteDatabase) FindContentByID(ctx context.Context, id int64) (*drive.Content, error) {
	return s.findContent(ctx, "id = ?", id)
}

func (s *SQLiteDatabase) CreateContent(ctx context.Context, c *drive.Content) (*drive.Content, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO contents (hash, storage_key, size, media_type, ref_count, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Hash, c.StorageKey, c.Size, c.MediaType, c.RefCount, string(c.Status), c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("content %s: %w", c.Hash, drive.ErrDuplicateContent)
	}
	if err != nil {
		return nil, fmt.Errorf("inserting content: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading content id: %w", err)
	}
	created := *c
	created.ID = id
	return &created, nil
}

func (s *SQLiteDatabase) RetainContent(ctx context.Context, id int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE contents SET ref_count = ref_count + 1, updated_at = ?
		 WHERE id = ? AND status = ? RETURNING ref_count`,
		time.Now().UTC(), id, string(drive.ContentUsable)).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		c, ferr := s.FindContentByID(ctx, id)
		if ferr != nil {
			return 0, ferr
		}
		if c == nil {
			return 0, fmt.Errorf("content %d: %w", id, drive.ErrNotFound)
		}
		return 0, fmt.Errorf("content %d is being removed: %w", id, drive.ErrInvalidTransition)
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing reference count: %w", err)
	}
	return count, nil
}

func (s *SQLiteDatabase) ReleaseContent(ctx context.Context, id, nodeID int64) (drive.ContentRelease, error) {
	result := drive.ReleaseSkipped
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if nodeID != 0 {
			var current sql.NullInt64
			err := tx.QueryRowContext(ctx, `SELECT content_id FROM nodes WHERE id = ?`, nodeID).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) || (err == nil && (!current.Valid || current.Int64 != id)) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading node content: %w", err)
			}
		}

		var count int64
		var status string
		err := tx.QueryRowContext(ctx, `SELECT ref_count, status FROM contents WHERE id = ?`, id).Scan(&count, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("content %d: %w", id, drive.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("reading reference count: %w", err)
		}

		now := time.Now().UTC()
		if count > 1 && status == string(drive.ContentUsable) {
			if _, err := tx.ExecContext(ctx,
				`UPDATE contents SET ref_count = ref_count - 1, updated_at = ? WHERE id = ?`, now, id); err != nil {
				return fmt.Errorf("decrementing reference count: %w", err)
			}
			if nodeID != 0 {
				if _, err := tx.ExecContext(ctx, `UPDATE nodes SET content_id = NULL WHERE id = ?`, nodeID); err != nil {
					return fmt.Errorf("unlinking node content: %w", err)
				}
			}
			result = drive.ReleaseDropped
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE contents SET status = ?, updated_at = ? WHERE id = ?`,
			string(drive.ContentUnusable), now, id); err != nil {
			return fmt.Errorf("marking content unusable: %w", err)
		}
		result = drive.ReleaseLast
		return nil
	})
	if err != nil {
		return drive.ReleaseSkipped, err
	}
	return result, nil
}

func (s *SQLiteDatabase) SetContentStatus(ctx context.Context, id int64, status drive.ContentStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE contents SET status = ?, updated_at = ? WHERE id = ?`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating content status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("content %d: %w", id, drive.ErrNotFound)
	}
	return nil
}

func (s *SQLiteDatabase) DeleteContent(ctx context.Context, id, nodeID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM contents WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting content: %w", err)
		}
		if nodeID != 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE nodes SET content_id = NULL WHERE id = ? AND content_id = ?`, nodeID, id); err != nil {
				return fmt.Errorf("unlinking node content: %w", err)
			}
		}
		return nil
	})
}

// Node operations

const nodeColumns = `id, owner_id, parent_id, name, is_dir, content_id, size, media_type, state,
	starred, downloads, created_at, updated_at, trashed_at`

func scanNode(row scanner) (*drive.Node, error) {
	var n drive.Node
	var contentID sql.NullInt64
	var state string
	err := row.Scan(&n.ID, &n.OwnerID, &n.ParentID, &n.Name, &n.IsDir, &contentID, &n.Size, &n.MediaType, &state,
		&n.Starred, &n.Downloads, &n.CreatedAt, &n.UpdatedAt, &n.TrashedAt)
	if err != nil {
		return nil, err
	}
	n.ContentID = contentID.Int64
	if n.State, err = drive.ParseNodeState(state); err != nil {
		return nil, err
	}
	return &n, nil
}

func collectNodes(rows *sql.Rows) ([]*drive.Node, error) {
	defer rows.Close()
	var out []*drive.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("reading node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func nullContent(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func (s *SQLiteDatabase) CreateNode(ctx context.Context, n *drive.Node) (*drive.Node, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO nodes (owner_id, parent_id, name, is_dir, content_id, size, media_type, state,
			starred, downloads, created_at, updated_at, trashed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.OwnerID, n.ParentID, n.Name, n.IsDir, nullContent(n.ContentID), n.Size, n.MediaType, n.State.String(),
		n.Starred, n.Downloads, n.CreatedAt, n.UpdatedAt, n.TrashedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%q under %d: %w", n.Name, n.ParentID, drive.ErrNameConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("inserting node: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading node id: %w", err)
	}
	created := *n
	created.ID = id
	return &created, nil
}

func (s *SQLiteDatabase) FindNode(ctx context.Context, id int64) (*drive.Node, error) {
	n, err := scanNode(s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding node: %w", err)
	}
	return n, nil
}

func (s *SQLiteDatabase) FindChildByName(ctx context.Context, owner, parentID int64, name string) (*drive.Node, error) {
	n, err := scanNode(s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE owner_id = ? AND parent_id = ? AND name = ?`,
		owner, parentID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding child by name: %w", err)
	}
	return n, nil
}

func (s *SQLiteDatabase) ListChildren(ctx context.Context, owner, parentID int64) ([]*drive.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE owner_id = ? AND parent_id = ? ORDER BY id`, owner, parentID)
	if err != nil {
		return nil, fmt.Errorf("listing children: %w", err)
	}
	return collectNodes(rows)
}

func (s *SQLiteDatabase) ListNodesByState(ctx context.Context, owner int64, state drive.NodeState) ([]*drive.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE owner_id = ? AND state = ? ORDER BY id`, owner, state.String())
	if err != nil {
		return nil, fmt.Errorf("listing nodes by state: %w", err)
	}
	return collectNodes(rows)
}

func (s *SQLiteDatabase) ListStarred(ctx context.Context, owner int64) ([]*drive.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE owner_id = ? AND starred = 1 AND state = ? ORDER BY id`,
		owner, drive.StateActive.String())
	if err != nil {
		return nil, fmt.Errorf("listing starred nodes: %w", err)
	}
	return collectNodes(rows)
}

// updateNode runs a single-row update, mapping collisions and missing rows.
func (s *SQLiteDatabase) updateNode(ctx context.Context, id int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("node %d: %w", id, drive.ErrNameConflict)
	}
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("node %d: %w", id, drive.ErrNotFound)
	}
	return nil
}

func (s *SQLiteDatabase) RenameNode(ctx context.Context, id int64, name string, at time.Time) error {
	if err := s.updateNode(ctx, id, `UPDATE nodes SET name = ?, updated_at = ? WHERE id = ?`, name, at, id); err != nil {
		return fmt.Errorf("renaming node: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) MoveNode(ctx context.Context, id int64, parentID int64, at time.Time) error {
	if err := s.updateNode(ctx, id, `UPDATE nodes SET parent_id = ?, updated_at = ? WHERE id = ?`, parentID, at, id); err != nil {
		return fmt.Errorf("moving node: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) SetNodeStates(ctx context.Context, ids []int64, state drive.NodeState, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	var query string
	var args []any
	switch state {
	case drive.StateActive:
		query = `UPDATE nodes SET state = ?, updated_at = ?, trashed_at = NULL WHERE id = ?`
		args = []any{state.String(), at}
	case drive.StateTrashed:
		query = `UPDATE nodes SET state = ?, updated_at = ?, trashed_at = ? WHERE id = ?`
		args = []any{state.String(), at, at}
	case drive.StatePurged:
		query = `UPDATE nodes SET state = ?, updated_at = ? WHERE id = ?`
		args = []any{state.String(), at}
	default:
		return fmt.Errorf("unknown node state %v", state)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing state update: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, append(args, id)...); err != nil {
			return fmt.Errorf("updating node %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing state update: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) SetNodeStarred(ctx context.Context, id int64, starred bool) error {
	if err := s.updateNode(ctx, id, `UPDATE nodes SET starred = ? WHERE id = ?`, starred, id); err != nil {
		return fmt.Errorf("starring node: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) IncrementNodeDownloads(ctx context.Context, id int64) error {
	if err := s.updateNode(ctx, id, `UPDATE nodes SET downloads = downloads + 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("counting download: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) DeleteNodes(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `DELETE FROM nodes WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("deleting nodes: %w", err)
		}
		return nil
	})
}

// Share operations

const shareColumns = `id, owner_id, root_node_id, code, extraction_code, expires_at,
	view_count, download_count, save_count, status, created_at, updated_at`

func scanShare(row scanner) (*drive.Share, error) {
	var sh drive.Share
	var status string
	err := row.Scan(&sh.ID, &sh.OwnerID, &sh.RootNodeID, &sh.Code, &sh.ExtractionCode, &sh.ExpiresAt,
		&sh.Views, &sh.Downloads, &sh.Saves, &status, &sh.CreatedAt, &sh.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sh.Status = drive.ShareStatus(status)
	return &sh, nil
}

func (s *SQLiteDatabase) CreateShare(ctx context.Context, sh *drive.Share) (*drive.Share, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO shares (owner_id, root_node_id, code, extraction_code, expires_at, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sh.OwnerID, sh.RootNodeID, sh.Code, sh.ExtractionCode, sh.ExpiresAt, string(sh.Status), sh.CreatedAt, sh.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("share code %q: %w", sh.Code, drive.ErrNameConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("inserting share: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading share id: %w", err)
	}
	created := *sh
	created.ID = id
	return &created, nil
}

func (s *SQLiteDatabase) findShare(ctx context.Context, where string, arg any) (*drive.Share, error) {
	sh, err := scanShare(s.db.QueryRowContext(ctx, `SELECT `+shareColumns+` FROM shares WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading share: %w", err)
	}
	return sh, nil
}

func (s *SQLiteDatabase) FindShareByCode(ctx context.Context, code string) (*drive.Share, error) {
	return s.findShare(ctx, "code = ?", code)
}

func (s *SQLiteDatabase) FindShareByID(ctx context.Context, id int64) (*drive.Share, error) {
	return s.findShare(ctx, "id = ?", id)
}

func (s *SQLiteDatabase) ListSharesByOwner(ctx context.Context, owner int64) ([]*drive.Share, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+shareColumns+` FROM shares WHERE owner_id = ? ORDER BY created_at DESC, id DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("listing shares: %w", err)
	}
	defer rows.Close()

	var out []*drive.Share
	for rows.Next() {
		sh, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("reading share: %w", err)
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) SetShareStatus(ctx context.Context, id int64, status drive.ShareStatus, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE shares SET status = ?, updated_at = ? WHERE id = ?`, string(status), at, id); err != nil {
		return fmt.Errorf("updating share status: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) IncrementShareCounter(ctx context.Context, id int64, counter drive.ShareCounter) error {
	var column string
	switch counter {
	case drive.CounterViews:
		column = "view_count"
	case drive.CounterDownloads:
		column = "download_count"
	case drive.CounterSaves:
		column = "save_count"
	default:
		return fmt.Errorf("unknown share counter %q", counter)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE shares SET `+column+` = `+column+` + 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("incrementing %s: %w", column, err)
	}
	return nil
}

// Quota operations

func (s *SQLiteDatabase) FindQuota(ctx context.Context, owner int64) (*drive.Quota, error) {
	var q drive.Quota
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id, total, used, updated_at FROM quotas WHERE owner_id = ?`, owner).
		Scan(&q.OwnerID, &q.Total, &q.Used, &q.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding quota: %w", err)
	}
	return &q, nil
}

func (s *SQLiteDatabase) AdjustQuota(ctx context.Context, owner, delta, defaultTotal int64, at time.Time) (*drive.Quota, bool, error) {
	q := &drive.Quota{OwnerID: owner, Total: defaultTotal}
	clamped := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT total, used FROM quotas WHERE owner_id = ?`, owner).Scan(&q.Total, &q.Used)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("finding quota: %w", err)
		}

		used := q.Used + delta
		if delta > 0 && used > q.Total {
			return fmt.Errorf("owner %d needs %d bytes, %d of %d used: %w", owner, delta, q.Used, q.Total, drive.ErrQuotaExceeded)
		}
		if used < 0 {
			clamped = true
			used = 0
		}
		q.Used = used
		q.UpdatedAt = at

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO quotas (owner_id, total, used, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (owner_id) DO UPDATE SET used = excluded.used, updated_at = excluded.updated_at`,
			q.OwnerID, q.Total, q.Used, q.UpdatedAt); err != nil {
			return fmt.Errorf("writing quota: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return q, clamped, nil
}

func (s *SQLiteDatabase) SetQuotaTotal(ctx context.Context, owner, total int64, at time.Time) (*drive.Quota, error) {
	var q drive.Quota
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO quotas (owner_id, total, used, updated_at) VALUES (?, ?, 0, ?)
			 ON CONFLICT (owner_id) DO UPDATE SET total = excluded.total, updated_at = excluded.updated_at`,
			owner, total, at); err != nil {
			return fmt.Errorf("writing quota total: %w", err)
		}
		err := tx.QueryRowContext(ctx,
			`SELECT owner_id, total, used, updated_at FROM quotas WHERE owner_id = ?`, owner).
			Scan(&q.OwnerID, &q.Total, &q.Used, &q.UpdatedAt)
		if err != nil {
			return fmt.Errorf("reading quota: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Operation journal

func (s *SQLiteDatabase) CreateOperation(ctx context.Context, name, parameters string, at time.Time) (*drive.Operation, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO operations (operation, parameters, status, started_at) VALUES (?, ?, 'running', ?)`,
		name, parameters, at)
	if err != nil {
		return nil, fmt.Errorf("inserting operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return &drive.Operation{ID: id, Name: name, Parameters: parameters, Status: "running", StartedAt: at}, nil
}

func (s *SQLiteDatabase) FinishOperation(ctx context.Context, id int64, status string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE operations SET status = ?, finished_at = ? WHERE id = ?`, status, at, id); err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(ctx context.Context, limit int) ([]*drive.Operation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, operation, parameters, status, started_at, finished_at FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var out []*drive.Operation
	for rows.Next() {
		var op drive.Operation
		if err := rows.Scan(&op.ID, &op.Name, &op.Parameters, &op.Status, &op.StartedAt, &op.FinishedAt); err != nil {
			return nil, fmt.Errorf("reading operation: %w", err)
		}
		out = append(out, &op)
	}
	return out, rows.Err()
}
