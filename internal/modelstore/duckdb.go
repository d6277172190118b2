package modelstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
)

// DuckDBStore keeps models in a DuckDB database. Tags and columns live in
// side tables so containment filters run in SQL, and pages are read with
// keyset pagination on (creation_date, id).
type DuckDBStore struct {
	options
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewDuckDBStore opens the database at dbPath. ":memory:" opens a private
// in-memory database. Creation dates are stored as UTC TIMESTAMP values.
func NewDuckDBStore(dbPath string, opts ...Option) (*DuckDBStore, error) {
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, newStoreError("duckdb", "open", fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	// DuckDB allows a single writer, and each :memory: connection is its own database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBStore{
		options: newOptions("duckdb", opts),
		db:      db,
		dbPath:  dbPath,
	}, nil
}

// Initialize applies pending schema migrations.
func (s *DuckDBStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("initializing DuckDB model store", "db_path", s.dbPath)
	if err := migrate(ctx, s.db, s.logger); err != nil {
		return newStoreError("duckdb", "initialize", err)
	}
	return nil
}

// Store implements Store. The model and its lists are written in one transaction.
func (s *DuckDBStore) Store(ctx context.Context, m *MetaModel) error {
	if err := prepare(m, s.now); err != nil {
		return err
	}
	meta, err := json.Marshal(m.Meta)
	if err != nil {
		return newStoreError("duckdb", "store", fmt.Errorf("failed to encode meta: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newStoreError("duckdb", "store", fmt.Errorf("failed to start transaction: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO models (id, creation_date, performance, description, artifact, meta) VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.CreationDate, m.Performance, m.Description, m.Artifact, string(meta),
	); err != nil {
		return newStoreError("duckdb", "store", fmt.Errorf("failed to insert model: %w", err))
	}
	for i, tag := range m.Tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO model_tags (model_id, position, tag) VALUES ($1, $2, $3)`, m.ID, i, tag); err != nil {
			return newStoreError("duckdb", "store", fmt.Errorf("failed to insert tag: %w", err))
		}
	}
	for i, name := range m.Columns {
		if _, err := tx.ExecContext(ctx, `INSERT INTO model_columns (model_id, position, name) VALUES ($1, $2, $3)`, m.ID, i, name); err != nil {
			return newStoreError("duckdb", "store", fmt.Errorf("failed to insert column: %w", err))
		}
	}
	if err := tx.Commit(); err != nil {
		return newStoreError("duckdb", "store", fmt.Errorf("failed to commit: %w", err))
	}

	s.metrics.ModelStored("duckdb")
	s.logger.Debug("model stored", "id", m.ID, "tags", m.Tags)
	return nil
}

// Get implements Store.
func (s *DuckDBStore) Get(ctx context.Context, filter Filter) ([]*MetaModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	models, err := collectPages(ctx, s.pageLimit, func(ctx context.Context, after *Cursor, limit int) ([]*MetaModel, error) {
		return s.page(ctx, filter, after, limit)
	})
	if err != nil {
		return nil, newStoreError("duckdb", "get", err)
	}
	return models, nil
}

// queryBuilder numbers positional parameters as they are added.
type queryBuilder struct {
	where []string
	args  []interface{}
}

func (b *queryBuilder) arg(v interface{}) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (s *DuckDBStore) page(ctx context.Context, filter Filter, after *Cursor, limit int) ([]*MetaModel, error) {
	var b queryBuilder
	for _, tag := range filter.Tags {
		b.where = append(b.where, "EXISTS (SELECT 1 FROM model_tags t WHERE t.model_id = m.id AND t.tag = "+b.arg(tag)+")")
	}
	for _, name := range filter.Columns {
		b.where = append(b.where, "EXISTS (SELECT 1 FROM model_columns c WHERE c.model_id = m.id AND c.name = "+b.arg(name)+")")
	}
	if filter.Performance != nil {
		b.where = append(b.where, "m.performance = "+b.arg(*filter.Performance))
	}
	if filter.Description != "" {
		b.where = append(b.where, "m.description = "+b.arg(filter.Description))
	}
	if filter.CreationDate != nil {
		b.where = append(b.where, "m.creation_date = "+b.arg(filter.CreationDate.UTC().Truncate(time.Microsecond)))
	}
	if after != nil {
		date := b.arg(after.CreationDate)
		b.where = append(b.where, fmt.Sprintf("(m.creation_date > %s OR (m.creation_date = %s AND m.id > %s))",
			date, date, b.arg(after.ID)))
	}

	query := "SELECT m.id, m.creation_date, m.performance, m.description, m.artifact, m.meta FROM models m"
	if len(b.where) > 0 {
		query += " WHERE " + strings.Join(b.where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY m.creation_date, m.id LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	var (
		models []*MetaModel
		byID   = make(map[string]*MetaModel)
	)
	for rows.Next() {
		m := &MetaModel{Tags: []string{}, Columns: []string{}}
		var meta string
		if err := rows.Scan(&m.ID, &m.CreationDate, &m.Performance, &m.Description, &m.Artifact, &meta); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		m.CreationDate = m.CreationDate.UTC()
		if err := json.Unmarshal([]byte(meta), &m.Meta); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to decode meta of %s: %w", m.ID, err)
		}
		models = append(models, m)
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(models) == 0 {
		return nil, nil
	}
	if err := s.loadLists(ctx, byID); err != nil {
		return nil, err
	}
	return models, nil
}

// loadLists fills the tags and columns of the given models, in stored order.
func (s *DuckDBStore) loadLists(ctx context.Context, byID map[string]*MetaModel) error {
	var b queryBuilder
	placeholders := make([]string, 0, len(byID))
	for id := range byID {
		placeholders = append(placeholders, b.arg(id))
	}
	in := strings.Join(placeholders, ", ")

	lists := []struct {
		query  string
		append func(m *MetaModel, v string)
	}{
		{"SELECT model_id, tag FROM model_tags WHERE model_id IN (" + in + ") ORDER BY model_id, position",
			func(m *MetaModel, v string) { m.Tags = append(m.Tags, v) }},
		{"SELECT model_id, name FROM model_columns WHERE model_id IN (" + in + ") ORDER BY model_id, position",
			func(m *MetaModel, v string) { m.Columns = append(m.Columns, v) }},
	}
	for _, list := range lists {
		rows, err := s.db.QueryContext(ctx, list.query, b.args...)
		if err != nil {
			return fmt.Errorf("failed to load lists: %w", err)
		}
		for rows.Next() {
			var id, value string
			if err := rows.Scan(&id, &value); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan list row: %w", err)
			}
			list.append(byID[id], value)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *DuckDBStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
