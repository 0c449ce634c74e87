package rag

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PgVectorIndex keeps chunks in a Postgres table with a pgvector column and
// ranks them by cosine distance.
type PgVectorIndex struct {
	db    *sql.DB
	table string
}

// OpenPgVector opens a database/sql pool on the lib/pq driver.
func OpenPgVector(uri string) (*sql.DB, error) {
	db, err := sql.Open("postgres", uri)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func NewPgVectorIndex(db *sql.DB, table string) (*PgVectorIndex, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PgVectorIndex{db: db, table: table}, nil
}

// Reset drops and recreates the table for vectors of size dim. Only the
// staging table is reset during a rebuild.
func (p *PgVectorIndex) Reset(ctx context.Context, dim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, p.table),
		fmt.Sprintf(`CREATE TABLE %s (
			id          BIGSERIAL PRIMARY KEY,
			content     TEXT NOT NULL,
			metadata    JSONB NOT NULL DEFAULT '{}',
			start_index INTEGER NOT NULL DEFAULT 0,
			embedding   vector(%d) NOT NULL
		)`, p.table, dim),
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("pgvector reset: %w", err)
		}
	}
	return nil
}

// BuildANN adds an HNSW index once the bulk load is finished. Postgres
// picks the index name so staging and live tables never collide.
func (p *PgVectorIndex) BuildANN(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE INDEX ON %s USING hnsw (embedding vector_cosine_ops)`, p.table))
	return err
}

// staging returns the index over the table rebuilds are loaded into.
func (p *PgVectorIndex) staging() *PgVectorIndex {
	return &PgVectorIndex{db: p.db, table: p.table + "_next"}
}

// replaceWith drops the live table and renames next into its place in one
// transaction, so readers see either the old rows or the new ones.
func (p *PgVectorIndex) replaceWith(ctx context.Context, next *PgVectorIndex) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, p.table),
		fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, next.table, p.table),
	} {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("pgvector swap: %w", err)
		}
	}
	return tx.Commit()
}

func (p *PgVectorIndex) Exists(ctx context.Context) (bool, error) {
	var reg sql.NullString
	if err := p.db.QueryRowContext(ctx, `SELECT to_regclass($1)::text`, p.table).Scan(&reg); err != nil {
		return false, err
	}
	return reg.Valid && reg.String != "", nil
}

func (p *PgVectorIndex) Add(ctx context.Context, docs []Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("pgvector: %d documents but %d vectors", len(docs), len(vectors))
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (content, metadata, start_index, embedding) VALUES ($1, $2, $3, $4)`, p.table))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, d := range docs {
		md, err := json.Marshal(CleanMetadata(d.Metadata))
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, d.Content, string(md), d.StartIndex, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("pgvector insert %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (p *PgVectorIndex) Search(ctx context.Context, vector []float32, k int) ([]ScoredDocument, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT content, metadata, start_index, 1 - (embedding <=> $1) AS score
		 FROM %s ORDER BY embedding <=> $1 LIMIT $2`, p.table),
		pgvector.NewVector(vector), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScoredDocument
	for rows.Next() {
		var (
			sd    ScoredDocument
			md    []byte
			score float64
		)
		if err := rows.Scan(&sd.Content, &md, &sd.StartIndex, &score); err != nil {
			return nil, err
		}
		if len(md) > 0 {
			if err := json.Unmarshal(md, &sd.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		sd.Score = float32(score)
		out = append(out, sd)
	}
	return out, rows.Err()
}

func (p *PgVectorIndex) Len(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, p.table)).Scan(&n)
	return n, err
}
