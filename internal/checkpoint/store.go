// Package checkpoint provides the durable, crash-safe record of crawl
// progress. It is the sole source of truth for "what has already been
// committed": every component queries it on startup to exclude applied
// work, and the repository writer advances it strictly after a commit
// durably succeeds.
//
// The store uses modernc.org/sqlite, a pure Go SQLite build, in WAL
// mode. It lives next to the mirror working tree but is never part of
// the version-controlled history.
package checkpoint

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/google/uuid"

	"github.com/mirrorkit/wikidot-mirror/internal/checkpoint/migrations"
	"github.com/mirrorkit/wikidot-mirror/internal/domain"
)

// DirName is the conventional checkpoint directory inside a mirror
// target. It holds the database and must stay out of version control.
const DirName = ".wdmirror"

// Meta keys for singleton crawl state.
const (
	// metaEnumCursor is the last fully processed listing index, so a
	// restart resumes mid-enumeration rather than from zero.
	metaEnumCursor = "enumeration_cursor"

	// metaEnumDone marks that a full enumeration pass (including the
	// terminal re-enumeration) completed for the current run.
	metaEnumDone = "enumeration_done"

	// metaLowWater is the earliest pending timestamp across all pages
	// not yet flushed, used to pick safe resume points.
	metaLowWater = "low_water_mark"
)

// Store is the sqlite-backed checkpoint store.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the checkpoint database inside dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "checkpoint.db")

	// WAL keeps single-row checkpoint flushes cheap while the fetchers
	// read concurrently.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)")
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Pages ====================

// UpsertPage records a discovered page. Discovery only grows the set:
// re-upserting an existing slug refreshes metadata but never clears the
// deleted flag or loses the discovery time.
func (s *Store) UpsertPage(ctx context.Context, page domain.Page) error {
	if page.DiscoveredAt.IsZero() {
		page.DiscoveredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (slug, title, remote_id, tags, parent, last_name, deleted, discovered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE pages.title END,
			remote_id = CASE WHEN excluded.remote_id != 0 THEN excluded.remote_id ELSE pages.remote_id END,
			tags = CASE WHEN excluded.tags != '' THEN excluded.tags ELSE pages.tags END,
			parent = CASE WHEN excluded.parent != '' THEN excluded.parent ELSE pages.parent END
	`, page.Slug, page.Title, page.RemoteID, strings.Join(page.Tags, " "),
		page.Parent, page.Slug, boolToInt(page.Deleted), page.DiscoveredAt)
	if err != nil {
		return fmt.Errorf("upserting page: %w", err)
	}
	return nil
}

// GetPage retrieves a page by slug.
func (s *Store) GetPage(ctx context.Context, slug string) (*domain.Page, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT slug, title, remote_id, tags, parent, deleted, discovered_at
		FROM pages WHERE slug = ?
	`, slug)
	return scanPage(row)
}

// ListPages returns all known pages in slug order.
func (s *Store) ListPages(ctx context.Context) ([]domain.Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slug, title, remote_id, tags, parent, deleted, discovered_at
		FROM pages ORDER BY slug
	`)
	if err != nil {
		return nil, fmt.Errorf("querying pages: %w", err)
	}
	defer rows.Close()

	var pages []domain.Page //nolint:prealloc // size unknown from query
	for rows.Next() {
		var p domain.Page
		var tags string
		var deleted int
		if err := rows.Scan(&p.Slug, &p.Title, &p.RemoteID, &tags, &p.Parent, &deleted, &p.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("scanning page: %w", err)
		}
		if tags != "" {
			p.Tags = strings.Fields(tags)
		}
		p.Deleted = deleted != 0
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pages: %w", err)
	}
	return pages, nil
}

// MarkPageDeleted records the terminal deleted state for a page. The
// page row itself is preserved: history is never erased locally.
func (s *Store) MarkPageDeleted(ctx context.Context, slug string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE pages SET deleted = 1 WHERE slug = ?", slug)
	if err != nil {
		return fmt.Errorf("marking page deleted: %w", err)
	}
	return nil
}

// LastName returns the most recent file name committed for the page,
// used to detect renames across revisions. Falls back to the slug.
func (s *Store) LastName(ctx context.Context, slug string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, "SELECT last_name FROM pages WHERE slug = ?", slug).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return slug, nil
		}
		return "", fmt.Errorf("reading last name: %w", err)
	}
	if name == "" {
		return slug, nil
	}
	return name, nil
}

// SetLastName updates the rename-tracking name for a page.
func (s *Store) SetLastName(ctx context.Context, slug, name string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE pages SET last_name = ? WHERE slug = ?", name, slug)
	if err != nil {
		return fmt.Errorf("setting last name: %w", err)
	}
	return nil
}

// SetParent updates the tracked parent slug for a page.
func (s *Store) SetParent(ctx context.Context, slug, parent string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE pages SET parent = ? WHERE slug = ?", parent, slug)
	if err != nil {
		return fmt.Errorf("setting parent: %w", err)
	}
	return nil
}

// ==================== Checkpoints ====================

// LastCommitted returns the highest revision number durably committed
// for a page, or 0 for a page with no committed history.
func (s *Store) LastCommitted(ctx context.Context, slug string) (int, error) {
	var last int
	err := s.db.QueryRowContext(ctx,
		"SELECT last_committed FROM checkpoints WHERE slug = ?", slug).Scan(&last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading checkpoint: %w", err)
	}
	return last, nil
}

// Record durably advances the checkpoint for one committed revision.
// The commit record and the checkpoint move in a single transaction,
// and the revision must be exactly last_committed+1: committed
// revision numbers always form a gapless prefix.
//
// Any storage failure here wraps domain.ErrCheckpointUnavailable; the
// caller must treat it as fatal, because applying further commits with
// unrecordable progress breaks resumability.
func (s *Store) Record(ctx context.Context, slug string, seq int, commitHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrCheckpointUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var last int
	err = tx.QueryRowContext(ctx,
		"SELECT last_committed FROM checkpoints WHERE slug = ?", slug).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: read: %v", domain.ErrCheckpointUnavailable, err)
	}
	if seq != last+1 {
		return fmt.Errorf("%w: page %s: recording %d after %d", domain.ErrOutOfOrder, slug, seq, last)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO commit_records (slug, seq, commit_hash, committed_at)
		VALUES (?, ?, ?, ?)
	`, slug, seq, commitHash, now); err != nil {
		return fmt.Errorf("%w: commit record: %v", domain.ErrCheckpointUnavailable, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoints (slug, last_committed, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			last_committed = excluded.last_committed,
			updated_at = excluded.updated_at
	`, slug, seq, now); err != nil {
		return fmt.Errorf("%w: checkpoint: %v", domain.ErrCheckpointUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: flush: %v", domain.ErrCheckpointUnavailable, err)
	}
	return nil
}

// CommitRecord returns the commit record for a page revision, or
// domain.ErrNotFound if the revision was never committed.
func (s *Store) CommitRecord(ctx context.Context, slug string, seq int) (*domain.CommitRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT slug, seq, commit_hash, committed_at
		FROM commit_records WHERE slug = ? AND seq = ?
	`, slug, seq)

	var rec domain.CommitRecord
	if err := row.Scan(&rec.PageSlug, &rec.Seq, &rec.CommitHash, &rec.CommitTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning commit record: %w", err)
	}
	return &rec, nil
}

// ==================== Crawl meta ====================

// EnumerationCursor returns the last fully processed listing index.
func (s *Store) EnumerationCursor(ctx context.Context) (int, error) {
	val, err := s.getMeta(ctx, metaEnumCursor)
	if err != nil || val == "" {
		return 0, err
	}
	var idx int
	if _, err := fmt.Sscanf(val, "%d", &idx); err != nil {
		return 0, fmt.Errorf("parsing enumeration cursor: %w", err)
	}
	return idx, nil
}

// SetEnumerationCursor records enumeration progress.
func (s *Store) SetEnumerationCursor(ctx context.Context, index int) error {
	return s.setMeta(ctx, metaEnumCursor, fmt.Sprintf("%d", index))
}

// ResetEnumeration clears the enumeration cursor before a fresh pass.
func (s *Store) ResetEnumeration(ctx context.Context) error {
	if err := s.setMeta(ctx, metaEnumCursor, "0"); err != nil {
		return err
	}
	return s.setMeta(ctx, metaEnumDone, "")
}

// LowWaterMark returns the earliest pending timestamp across all pages,
// or the zero time when unset.
func (s *Store) LowWaterMark(ctx context.Context) (time.Time, error) {
	val, err := s.getMeta(ctx, metaLowWater)
	if err != nil || val == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing low-water mark: %w", err)
	}
	return t, nil
}

// SetLowWaterMark records the earliest pending timestamp.
func (s *Store) SetLowWaterMark(ctx context.Context, t time.Time) error {
	return s.setMeta(ctx, metaLowWater, t.UTC().Format(time.RFC3339))
}

func (s *Store) getMeta(ctx context.Context, key string) (string, error) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&val)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("reading meta %s: %w", key, err)
	}
	return val, nil
}

func (s *Store) setMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("%w: meta %s: %v", domain.ErrCheckpointUnavailable, key, err)
	}
	return nil
}

// ==================== Runs ====================

// RunReport summarises one mirroring pass for the end-of-run report.
type RunReport struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time
	PagesTotal     int
	CommitsApplied int
	FailedSlugs    []string
}

// StartRun opens a new run row and returns its identifier.
func (s *Store) StartRun(ctx context.Context) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at) VALUES (?, ?)
	`, id, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("starting run: %w", err)
	}
	return id, nil
}

// FinishRun closes a run row with its final counts.
func (s *Store) FinishRun(ctx context.Context, report RunReport) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, pages_total = ?, commits_applied = ?, failed_slugs = ?
		WHERE id = ?
	`, time.Now().UTC(), report.PagesTotal, report.CommitsApplied,
		strings.Join(report.FailedSlugs, ","), report.ID)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent runs, newest first. A run that was
// interrupted before FinishRun has a zero FinishedAt.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunReport, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, pages_total, commits_applied, failed_slugs
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []RunReport
	for rows.Next() {
		var run RunReport
		var finished sql.NullTime
		var failed string
		if err := rows.Scan(&run.ID, &run.StartedAt, &finished, &run.PagesTotal, &run.CommitsApplied, &failed); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if finished.Valid {
			run.FinishedAt = finished.Time
		}
		if failed != "" {
			run.FailedSlugs = strings.Split(failed, ",")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// ==================== Helpers ====================

func scanPage(row *sql.Row) (*domain.Page, error) {
	var p domain.Page
	var tags string
	var deleted int
	if err := row.Scan(&p.Slug, &p.Title, &p.RemoteID, &tags, &p.Parent, &deleted, &p.DiscoveredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning page: %w", err)
	}
	if tags != "" {
		p.Tags = strings.Fields(tags)
	}
	p.Deleted = deleted != 0
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
