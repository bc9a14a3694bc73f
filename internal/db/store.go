package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/authz-engine/prp-core/pkg/types"
)

// ErrDocumentNotFound is returned when a lookup misses.
var ErrDocumentNotFound = errors.New("document not found")

// DocumentStore persists policy documents so replicas can replay the
// published set on startup.
type DocumentStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*DocumentStore, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewDocumentStore(sqlDB, logger), nil
}

// NewDocumentStore wraps an open database handle.
func NewDocumentStore(sqlDB *sql.DB, logger *zap.Logger) *DocumentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentStore{db: sqlDB, logger: logger}
}

// DB exposes the underlying handle, mainly for migrations.
func (s *DocumentStore) DB() *sql.DB {
	return s.db
}

// Save inserts or updates a document.
func (s *DocumentStore) Save(ctx context.Context, doc *types.Document) error {
	target, err := marshalTarget(doc.Target)
	if err != nil {
		return fmt.Errorf("save %q: %w", doc.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policy_documents (id, description, source, target, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET
			description = EXCLUDED.description,
			source      = EXCLUDED.source,
			target      = EXCLUDED.target,
			updated_at  = now()`,
		doc.ID, doc.Description, doc.Source, target,
	)
	if err != nil {
		return fmt.Errorf("save %q: %w", doc.ID, err)
	}
	return nil
}

// Delete removes a document by ID.
func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM policy_documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %q: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("delete %q: %w", id, ErrDocumentNotFound)
	}
	return nil
}

// Get loads a single document by ID.
func (s *DocumentStore) Get(ctx context.Context, id string) (*types.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, description, source, target
		FROM policy_documents WHERE id = $1`, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %q: %w", id, ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", id, err)
	}
	return doc, nil
}

// LoadAll loads every persisted document, oldest first.
func (s *DocumentStore) LoadAll(ctx context.Context) ([]*types.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, source, target
		FROM policy_documents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	var docs []*types.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("load documents: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}

	s.logger.Debug("Loaded documents from store", zap.Int("count", len(docs)))
	return docs, nil
}

// Close closes the database connection.
func (s *DocumentStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*types.Document, error) {
	doc := &types.Document{}
	var target sql.NullString
	if err := row.Scan(&doc.ID, &doc.Description, &doc.Source, &target); err != nil {
		return nil, err
	}
	if target.Valid {
		node, err := unmarshalTarget([]byte(target.String))
		if err != nil {
			return nil, fmt.Errorf("document %q: %w", doc.ID, err)
		}
		doc.Target = node
	}
	return doc, nil
}

// marshalTarget encodes a target tree as JSONB. A nil target persists as
// NULL and round-trips back to nil, keeping the tautology reading.
func marshalTarget(node *types.TargetNode) (interface{}, error) {
	if node == nil {
		return nil, nil
	}
	data, err := json.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("encoding target: %w", err)
	}
	return string(data), nil
}

func unmarshalTarget(data []byte) (*types.TargetNode, error) {
	node := &types.TargetNode{}
	if err := json.Unmarshal(data, node); err != nil {
		return nil, fmt.Errorf("decoding target: %w", err)
	}
	return node, nil
}
