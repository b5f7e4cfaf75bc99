package mediawidget

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database holding categories, attachments and
// widget instances.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database at path, ensures the data
// directory exists, and runs schema migrations.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	// Connection-scoped pragmas live in the DSN; journal_mode persists.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS categories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    slug TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS attachments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    mime_type TEXT NOT NULL,
    file_path TEXT NOT NULL,
    url TEXT NOT NULL,
    size INTEGER NOT NULL DEFAULT 0,
    category_id INTEGER REFERENCES categories(id) ON DELETE SET NULL,
    parent_id INTEGER REFERENCES attachments(id) ON DELETE CASCADE,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attachments_category ON attachments(category_id, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_attachments_parent ON attachments(parent_id);
CREATE TABLE IF NOT EXISTS widgets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL DEFAULT '',
    category_id INTEGER,
    max_items INTEGER,
    new_window INTEGER NOT NULL DEFAULT 0,
    hide_title INTEGER NOT NULL DEFAULT 0
);
`)
	return err
}

const attachmentColumns = `id, title, mime_type, file_path, url, size, category_id, parent_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttachment(r rowScanner) (Attachment, error) {
	var a Attachment
	var category, parent sql.NullInt64
	var created int64
	if err := r.Scan(&a.ID, &a.Title, &a.MimeType, &a.FilePath, &a.URL, &a.Size, &category, &parent, &created); err != nil {
		return Attachment{}, err
	}
	a.CategoryID = category.Int64
	a.ParentID = parent.Int64
	a.CreatedAt = time.Unix(0, created).UTC()
	return a, nil
}

func collectAttachments(rows *sql.Rows) ([]Attachment, error) {
	defer rows.Close()
	var out []Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListMedia returns up to limit attachments in category, skipping offset,
// newest first. An unknown or absent category yields an empty result.
func (s *Store) ListMedia(ctx context.Context, category int64, offset, limit int) ([]Attachment, error) {
	if category < 1 || limit < 1 {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+attachmentColumns+` FROM attachments
		WHERE category_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, category, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	media, err := collectAttachments(rows)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	return media, nil
}

// CountMedia returns the number of attachments in category.
func (s *Store) CountMedia(ctx context.Context, category int64) (int, error) {
	if category < 1 {
		return 0, nil
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attachments WHERE category_id = ?`, category).Scan(&n); err != nil {
		return 0, fmt.Errorf("count media: %w", err)
	}
	return n, nil
}

// ListAttachments returns every attachment, derived files included.
func (s *Store) ListAttachments(ctx context.Context) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+attachmentColumns+` FROM attachments ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return collectAttachments(rows)
}

// GetAttachment returns one attachment by id.
func (s *Store) GetAttachment(ctx context.Context, id int64) (Attachment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE id = ?`, id)
	return scanAttachment(row)
}

// ListChildren returns attachments derived from parent.
func (s *Store) ListChildren(ctx context.Context, parent int64) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE parent_id = ? ORDER BY id`, parent)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return collectAttachments(rows)
}

// SaveAttachment inserts a as a new record and sets its ID.
// A zero CreatedAt is replaced with the current time.
func (s *Store) SaveAttachment(ctx context.Context, a *Attachment) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO attachments (title, mime_type, file_path, url, size, category_id, parent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Title, a.MimeType, a.FilePath, a.URL, a.Size, nullID(a.CategoryID), nullID(a.ParentID), a.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save attachment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("save attachment: %w", err)
	}
	a.ID = id
	return nil
}

// DeleteAttachment removes an attachment; derived children go with it.
func (s *Store) DeleteAttachment(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete attachment %d: %w", id, err)
	}
	return nil
}

// ListCategories returns all categories ordered by name.
func (s *Store) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, slug FROM categories ORDER BY name COLLATE NOCASE, id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()
	var cats []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// SaveCategory upserts a category. A zero ID inserts and sets ID.
func (s *Store) SaveCategory(ctx context.Context, c *Category) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO categories (id, name, slug) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, slug = excluded.slug`, nullID(c.ID), c.Name, c.Slug)
	if err != nil {
		return fmt.Errorf("save category: %w", err)
	}
	if c.ID == 0 {
		if c.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("save category: %w", err)
		}
	}
	return nil
}

// DeleteCategory removes a category. Its attachments become uncategorized.
func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete category %d: %w", id, err)
	}
	return nil
}

const widgetColumns = `id, title, category_id, max_items, new_window, hide_title`

func scanWidget(r rowScanner) (WidgetConfig, error) {
	var w WidgetConfig
	var category, maxItems sql.NullInt64
	var newWindow, hideTitle int
	if err := r.Scan(&w.ID, &w.Title, &category, &maxItems, &newWindow, &hideTitle); err != nil {
		return WidgetConfig{}, err
	}
	w.CategoryID = category.Int64
	w.MaxItems = int(maxItems.Int64)
	w.NewWindow = newWindow == 1
	w.HideTitle = hideTitle == 1
	return w, nil
}

// ListWidgets returns every widget instance in creation order.
func (s *Store) ListWidgets(ctx context.Context) ([]WidgetConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+widgetColumns+` FROM widgets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list widgets: %w", err)
	}
	defer rows.Close()
	var out []WidgetConfig
	for rows.Next() {
		w, err := scanWidget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// GetWidget returns one widget instance by id.
func (s *Store) GetWidget(ctx context.Context, id int64) (WidgetConfig, error) {
	return scanWidget(s.db.QueryRowContext(ctx, `SELECT `+widgetColumns+` FROM widgets WHERE id = ?`, id))
}

// SaveWidget upserts a widget instance. A zero ID inserts and sets ID.
func (s *Store) SaveWidget(ctx context.Context, w *WidgetConfig) error {
	var maxItems any
	if w.MaxItems != 0 {
		maxItems = w.MaxItems
	}
	if w.ID == 0 {
		res, err := s.db.ExecContext(ctx, `INSERT INTO widgets (title, category_id, max_items, new_window, hide_title) VALUES (?, ?, ?, ?, ?)`,
			w.Title, nullID(w.CategoryID), maxItems, boolInt(w.NewWindow), boolInt(w.HideTitle))
		if err != nil {
			return fmt.Errorf("save widget: %w", err)
		}
		w.ID, err = res.LastInsertId()
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE widgets SET title = ?, category_id = ?, max_items = ?, new_window = ?, hide_title = ? WHERE id = ?`,
		w.Title, nullID(w.CategoryID), maxItems, boolInt(w.NewWindow), boolInt(w.HideTitle), w.ID)
	if err != nil {
		return fmt.Errorf("save widget: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save widget: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("save widget %d: %w", w.ID, ErrNotFound)
	}
	return nil
}

// DeleteWidget removes a widget instance.
func (s *Store) DeleteWidget(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM widgets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete widget %d: %w", id, err)
	}
	return nil
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
