package index

import (
	"context"
	"fmt"

	"finreport-qa/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// PGConn 是索引用到的连接池方法，*pgxpool.Pool 满足该接口。
type PGConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGVectorIndex 使用 PostgreSQL + pgvector 存储片段。
type PGVectorIndex struct {
	pool  PGConn
	table string
	dims  int
}

// NewPGVectorIndex 创建索引并确保扩展、表和索引存在。
func NewPGVectorIndex(ctx context.Context, pool PGConn, table string, dims int) (*PGVectorIndex, error) {
	if table == "" {
		table = "passages"
	}
	idx := &PGVectorIndex{pool: pool, table: table, dims: dims}
	if err := idx.initialize(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (p *PGVectorIndex) initialize(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			content TEXT NOT NULL,
			span_start INTEGER NOT NULL,
			span_end INTEGER NOT NULL,
			embedding vector(%d) NOT NULL
		)`, p.table, p.dims)
	if _, err := p.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	createIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_document_idx ON %s (document_id, seq)`, p.table, p.table)
	if _, err := p.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// Insert 在一个事务中删除旧片段并写入新片段。
func (p *PGVectorIndex) Insert(ctx context.Context, documentID string, passages []model.Passage) error {
	if err := checkPassages(documentID, passages, p.dims); err != nil {
		return err
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", p.table), documentID); err != nil {
		return fmt.Errorf("failed to clear passages: %w", err)
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (id, document_id, seq, content, span_start, span_end, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, p.table)
	batch := &pgx.Batch{}
	for _, ps := range passages {
		batch.Queue(stmt, ps.ID, ps.DocumentID, ps.Seq, ps.Text, ps.Start, ps.End, pgvector.NewVector(ps.Vector))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert passages: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit passages: %w", err)
	}
	return nil
}

// Query 使用余弦距离 <=> 排序，分数为 1 - 距离。
func (p *PGVectorIndex) Query(ctx context.Context, documentID string, vector []float32, k int) ([]model.ScoredPassage, error) {
	if len(vector) != p.dims {
		return nil, &DimensionError{Want: p.dims, Got: len(vector)}
	}
	if k <= 0 {
		return []model.ScoredPassage{}, nil
	}
	query := fmt.Sprintf(`
		SELECT id, seq, content, span_start, span_end, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE document_id = $2
		ORDER BY embedding <=> $1, seq
		LIMIT $3`, p.table)
	rows, err := p.pool.Query(ctx, query, pgvector.NewVector(vector), documentID, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query passages: %w", err)
	}
	defer rows.Close()

	hits := make([]model.ScoredPassage, 0, k)
	for rows.Next() {
		var sp model.ScoredPassage
		sp.Passage.DocumentID = documentID
		if err := rows.Scan(&sp.Passage.ID, &sp.Passage.Seq, &sp.Passage.Text, &sp.Passage.Start, &sp.Passage.End, &sp.Score); err != nil {
			return nil, fmt.Errorf("failed to scan passage: %w", err)
		}
		hits = append(hits, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rank(hits, k), nil
}

func (p *PGVectorIndex) Delete(ctx context.Context, documentID string) error {
	if _, err := p.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", p.table), documentID); err != nil {
		return fmt.Errorf("failed to delete passages: %w", err)
	}
	return nil
}

func (p *PGVectorIndex) Count(ctx context.Context, documentID string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s WHERE document_id = $1", p.table), documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count passages: %w", err)
	}
	return n, nil
}
