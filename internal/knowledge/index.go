package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	DefaultChunkSize    = 1800
	DefaultChunkOverlap = 200
	DefaultTopK         = 8
	DefaultMinScore     = 0.5
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    source TEXT NOT NULL,
    page INTEGER NOT NULL DEFAULT 0,
    chunk INTEGER NOT NULL,
    content TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source);
CREATE TABLE IF NOT EXISTS terms (
    term TEXT NOT NULL,
    chunk_id INTEGER NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
    tf INTEGER NOT NULL,
    PRIMARY KEY (term, chunk_id)
);
`

// Document is one source text to index. Pages are indexed separately so
// hits can cite them; a document without page breaks has a single page 0.
type Document struct {
	Title  string
	Source string
	Pages  []string
}

// Hit is one retrieved chunk.
type Hit struct {
	Title   string  `json:"title"`
	Source  string  `json:"source"`
	Page    int     `json:"page,omitempty"`
	Chunk   int     `json:"chunk"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Ref renders the citation of a hit.
func (h Hit) Ref() string {
	if h.Page > 0 {
		return fmt.Sprintf("%s (page %d)", h.Source, h.Page)
	}
	return h.Source
}

// Result holds the hits at or above the threshold and the best score seen.
type Result struct {
	Hits     []Hit
	MaxScore float64
}

// Index is a keyword index over document chunks kept in SQLite.
//
// A chunk's score for a query is the idf-weighted share of the query's terms
// it contains, so scores lie in [0,1] and a threshold keeps its meaning
// across corpora of different sizes.
type Index struct {
	db        *sql.DB
	log       *zap.Logger
	chunkSize int
	overlap   int

	schemaOnce sync.Once
	schemaErr  error
}

// Open opens (and creates) the index at path. ":memory:" is accepted.
func Open(path string, log *zap.Logger) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open knowledge index: %w", err)
	}
	db.SetMaxOpenConns(1)
	return New(db, log), nil
}

func New(db *sql.DB, log *zap.Logger) *Index {
	if log == nil {
		log = zap.NewNop()
	}
	return &Index{db: db, log: log, chunkSize: DefaultChunkSize, overlap: DefaultChunkOverlap}
}

// WithChunking overrides the chunk window and overlap.
func (x *Index) WithChunking(size, overlap int) *Index {
	x.chunkSize, x.overlap = size, overlap
	return x
}

func (x *Index) Close() error {
	if x == nil || x.db == nil {
		return nil
	}
	return x.db.Close()
}

func (x *Index) ensureSchema(ctx context.Context) error {
	if x == nil || x.db == nil {
		return errors.New("knowledge: index is not open")
	}
	x.schemaOnce.Do(func() {
		if _, err := x.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			x.schemaErr = err
			return
		}
		_, x.schemaErr = x.db.ExecContext(ctx, schema)
	})
	return x.schemaErr
}

// Add indexes doc, replacing any chunks previously stored for its source.
// It returns the number of chunks written.
func (x *Index) Add(ctx context.Context, doc Document) (int, error) {
	if err := x.ensureSchema(ctx); err != nil {
		return 0, err
	}
	if strings.TrimSpace(doc.Source) == "" {
		return 0, errors.New("knowledge: document source is required")
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM terms WHERE chunk_id IN (SELECT id FROM chunks WHERE source = ?)`, doc.Source); err != nil {
		return 0, fmt.Errorf("clear terms of %s: %w", doc.Source, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source = ?`, doc.Source); err != nil {
		return 0, fmt.Errorf("clear chunks of %s: %w", doc.Source, err)
	}

	written := 0
	for p, page := range doc.Pages {
		pageNo := 0
		if len(doc.Pages) > 1 {
			pageNo = p + 1
		}
		for n, content := range Chunk(page, x.chunkSize, x.overlap) {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO chunks (title, source, page, chunk, content) VALUES (?, ?, ?, ?, ?)`,
				doc.Title, doc.Source, pageNo, n+1, content)
			if err != nil {
				return 0, fmt.Errorf("insert chunk: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return 0, err
			}
			for _, t := range Terms(content) {
				if _, err := tx.ExecContext(ctx, `INSERT INTO terms (term, chunk_id, tf) VALUES (?, ?, ?)`, t.Text, id, t.Count); err != nil {
					return 0, fmt.Errorf("insert term: %w", err)
				}
			}
			written++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	x.log.Debug("knowledge document indexed", zap.String("source", doc.Source), zap.Int("chunks", written))
	return written, nil
}

// Count returns the number of indexed chunks.
func (x *Index) Count(ctx context.Context) (int, error) {
	if err := x.ensureSchema(ctx); err != nil {
		return 0, err
	}
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// Search ranks chunks against query and returns up to topK hits scoring at
// least minScore. MaxScore is reported even when nothing passes.
func (x *Index) Search(ctx context.Context, query string, topK int, minScore float64) (Result, error) {
	if err := x.ensureSchema(ctx); err != nil {
		return Result{}, err
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	words := uniqueWords(query)
	if len(words) == 0 {
		return Result{}, nil
	}
	total, err := x.Count(ctx)
	if err != nil || total == 0 {
		return Result{}, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(words)), ",")
	args := make([]any, len(words))
	for i, w := range words {
		args[i] = w
	}
	rows, err := x.db.QueryContext(ctx,
		`SELECT term, chunk_id, tf FROM terms WHERE term IN (`+placeholders+`)`, args...)
	if err != nil {
		return Result{}, fmt.Errorf("query terms: %w", err)
	}
	type posting struct {
		chunk int64
		tf    int
	}
	byTerm := map[string][]posting{}
	for rows.Next() {
		var term string
		var p posting
		if err := rows.Scan(&term, &p.chunk, &p.tf); err != nil {
			rows.Close()
			return Result{}, err
		}
		byTerm[term] = append(byTerm[term], p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Result{}, err
	}

	type scored struct {
		id    int64
		score float64
		tf    int
	}
	var weightSum float64
	acc := map[int64]*scored{}
	for _, w := range words {
		df := len(byTerm[w])
		idf := math.Log(1 + float64(total)/float64(df+1))
		weightSum += idf
		for _, p := range byTerm[w] {
			s := acc[p.chunk]
			if s == nil {
				s = &scored{id: p.chunk}
				acc[p.chunk] = s
			}
			s.score += idf
			s.tf += p.tf
		}
	}
	ranked := make([]*scored, 0, len(acc))
	for _, s := range acc {
		s.score /= weightSum
		ranked = append(ranked, s)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].tf != ranked[j].tf {
			return ranked[i].tf > ranked[j].tf
		}
		return ranked[i].id < ranked[j].id
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	var res Result
	if len(ranked) > 0 {
		res.MaxScore = ranked[0].score
	}
	for _, s := range ranked {
		if s.score < minScore {
			break
		}
		h := Hit{Score: s.score}
		err := x.db.QueryRowContext(ctx, `SELECT title, source, page, chunk, content FROM chunks WHERE id = ?`, s.id).
			Scan(&h.Title, &h.Source, &h.Page, &h.Chunk, &h.Content)
		if err != nil {
			return Result{}, fmt.Errorf("load chunk %d: %w", s.id, err)
		}
		res.Hits = append(res.Hits, h)
	}
	x.log.Debug("knowledge search",
		zap.String("query", query),
		zap.Int("hits", len(res.Hits)),
		zap.Float64("max_score", res.MaxScore))
	return res, nil
}

func uniqueWords(s string) []string {
	terms := Terms(s)
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = t.Text
	}
	return out
}
