package local

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the SQLite table of simulated nodes.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

type nodeRow struct {
	ID            string
	Name          string
	Tag           string
	State         string
	Location      string
	Image         string
	Size          string
	PublicIP      string
	PrivateIP     string
	User          string
	AuthorizedKey string
	CreatedAt     time.Time
}

const nodeColumns = `id, name, tag, state, location, image, size, public_ip, private_ip, login_user, authorized_key, created_at`

func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; an in-memory database also only lives on its
	// own connection.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Insert(ctx context.Context, r nodeRow) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO nodes (`+nodeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Tag, r.State, r.Location, r.Image, r.Size, r.PublicIP, r.PrivateIP, r.User, r.AuthorizedKey, r.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert node %s: %w", r.Name, err)
	}
	return nil
}

// Get returns nil when no node has id.
func (s *Store) Get(ctx context.Context, id string) (*nodeRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	r, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	return r, nil
}

// List returns every node ordered by name.
func (s *Store) List(ctx context.Context) ([]*nodeRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+nodeColumns+` FROM nodes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()
	var out []*nodeRow
	for rows.Next() {
		r, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetState reports false when no node has id.
func (s *Store) SetState(ctx context.Context, id, state string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE nodes SET state = ? WHERE id = ?`, state, id)
	if err != nil {
		return false, fmt.Errorf("update node %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Delete reports false when no node has id.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete node %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(sc scanner) (*nodeRow, error) {
	var r nodeRow
	var created int64
	if err := sc.Scan(&r.ID, &r.Name, &r.Tag, &r.State, &r.Location, &r.Image, &r.Size,
		&r.PublicIP, &r.PrivateIP, &r.User, &r.AuthorizedKey, &created); err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(created, 0)
	return &r, nil
}
