package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ConduitPlatform/Conduit-sub006/domain/route"
	"github.com/ConduitPlatform/Conduit-sub006/ports"
)

// RouteStore implements ports.RouteStore using SQLite.
type RouteStore struct {
	db *DB
}

var _ ports.RouteStore = (*RouteStore)(nil)

// NewRouteStore creates a new SQLite route store.
func NewRouteStore(db *DB) *RouteStore {
	return &RouteStore{db: db}
}

// Save inserts or replaces a definition.
func (s *RouteStore) Save(ctx context.Context, r ports.StoredRoute) error {
	def, err := json.Marshal(r.Definition)
	if err != nil {
		return fmt.Errorf("encode route %s: %w", r.Key(), err)
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO routes (route_key, owner, address, action, path, definition, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(route_key) DO UPDATE SET
			owner = excluded.owner,
			address = excluded.address,
			action = excluded.action,
			path = excluded.path,
			definition = excluded.definition,
			updated_at = excluded.updated_at
	`, r.Key(), r.Owner, r.Address, string(r.Definition.Action), r.Definition.Path, string(def), r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save route %s: %w", r.Key(), err)
	}
	return nil
}

// Delete removes a definition by key.
func (s *RouteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM routes WHERE route_key = ?`, key); err != nil {
		return fmt.Errorf("delete route %s: %w", key, err)
	}
	return nil
}

// DeleteOwnerExcept removes an owner's definitions whose key is not in keep.
func (s *RouteStore) DeleteOwnerExcept(ctx context.Context, owner string, keep []string) (int, error) {
	query := `DELETE FROM routes WHERE owner = ?`
	args := []any{owner}
	if len(keep) > 0 {
		query += ` AND route_key NOT IN (?` + strings.Repeat(", ?", len(keep)-1) + `)`
		for _, k := range keep {
			args = append(args, k)
		}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete routes of %s: %w", owner, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// List returns all definitions ordered by owner and key.
func (s *RouteStore) List(ctx context.Context) ([]ports.StoredRoute, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner, address, definition, updated_at
		FROM routes
		ORDER BY owner ASC, route_key ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ports.StoredRoute
	for rows.Next() {
		var (
			r   ports.StoredRoute
			def string
		)
		if err := rows.Scan(&r.Owner, &r.Address, &def, &r.UpdatedAt); err != nil {
			return nil, err
		}
		var d route.Definition
		if err := json.Unmarshal([]byte(def), &d); err != nil {
			return nil, fmt.Errorf("decode route of %s: %w", r.Owner, err)
		}
		r.Definition = d
		out = append(out, r)
	}
	return out, rows.Err()
}
