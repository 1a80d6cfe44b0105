package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetArchivedItem fetches a library entry by identifier.
func (s *Store) GetArchivedItem(ctx context.Context, id int64) (*ArchivedItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM archived_items WHERE id = ?`, id)
	item, err := scanArchivedItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("archived item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get archived item: %w", err)
	}
	return item, nil
}

// ListArchivedItems returns library entries, newest first. A non-positive
// limit returns everything.
func (s *Store) ListArchivedItems(ctx context.Context, limit int) ([]*ArchivedItem, error) {
	query := `SELECT ` + itemColumns + ` FROM archived_items ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list archived items: %w", err)
	}
	defer rows.Close()

	var items []*ArchivedItem
	for rows.Next() {
		item, err := scanArchivedItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan archived item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
