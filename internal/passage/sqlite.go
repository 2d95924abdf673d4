package passage

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore provides passage storage and brute-force cosine similarity
// search backed by SQLite. Adequate up to roughly 100K passages; beyond that
// an ANN-backed Store implementation should replace it.
type SQLiteStore struct {
	db         *sql.DB
	dimensions int
}

// NewSQLiteStore wraps an existing *sql.DB for passage operations. The
// passages table must already exist (created via migrations). dimensions is
// the expected vector length; 0 disables the check.
func NewSQLiteStore(db *sql.DB, dimensions int) *SQLiteStore {
	return &SQLiteStore{db: db, dimensions: dimensions}
}

// Insert adds passages in a single transaction.
func (s *SQLiteStore) Insert(ctx context.Context, passages []Passage) error {
	if err := s.checkDimensions(passages); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	if err := insertInTx(tx, passages); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Replace swaps a document's passages for the given set in one transaction,
// so a failure leaves the document's previous passages intact.
func (s *SQLiteStore) Replace(ctx context.Context, documentID string, passages []Passage) error {
	if err := s.checkDimensions(passages); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM passages WHERE document_id = ?", documentID); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing passages for document %s: %w", documentID, err)
	}
	if err := insertInTx(tx, passages); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) checkDimensions(passages []Passage) error {
	for _, p := range passages {
		if s.dimensions > 0 && len(p.Vector) != s.dimensions {
			return fmt.Errorf("passage %s: vector dimension %d, store expects %d", p.ID, len(p.Vector), s.dimensions)
		}
	}
	return nil
}

func insertInTx(tx *sql.Tx, passages []Passage) error {
	stmt, err := tx.Prepare(`
		INSERT INTO passages (id, document_id, owner_id, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range passages {
		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		blob := encodeFloat32s(p.Vector)
		if _, err := stmt.Exec(p.ID, p.DocumentID, p.OwnerID, p.Text, blob, createdAt.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("inserting passage %s: %w", p.ID, err)
		}
	}
	return nil
}

// idScore holds only the ID and similarity during the scan phase of Search.
// Full rows are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Search scans embeddings, keeps the top-K above threshold in a min-heap,
// then fetches full rows for the winners. The document filter is applied in
// SQL, so the topK cap counts only passages from the requested documents.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, topK int, threshold float32, documentIDs []string) ([]Scored, error) {
	if topK <= 0 {
		return nil, nil
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	scanQuery := `SELECT id, embedding FROM passages`
	var args []any
	if len(documentIDs) > 0 {
		scanQuery += ` WHERE document_id IN (?` + strings.Repeat(",?", len(documentIDs)-1) + `)`
		for _, id := range documentIDs {
			args = append(args, id)
		}
	}

	rows, err := s.db.QueryContext(ctx, scanQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("scanning embeddings: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer avoids a per-row allocation during the scan.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(vector, buf, queryNorm)
		if score < threshold {
			continue
		}
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	fullArgs := make([]any, len(topIDs))
	for i, id := range topIDs {
		fullArgs[i] = id
	}
	fullQuery := `SELECT id, document_id, owner_id, content, embedding, created_at
		FROM passages WHERE id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := s.db.QueryContext(ctx, fullQuery, fullArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K passages: %w", err)
	}
	defer fullRows.Close()

	var results []Scored
	for fullRows.Next() {
		p, err := scanPassage(fullRows)
		if err != nil {
			return nil, err
		}
		results = append(results, Scored{Passage: p, Similarity: scores[p.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating passages: %w", err)
	}

	// The IN query does not preserve order; re-sort by similarity.
	sortBySimilarity(results)

	return results, nil
}

// DeleteByDocument removes all passages for a document. Deleting a document
// with no passages is not an error.
func (s *SQLiteStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM passages WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("deleting passages for document %s: %w", documentID, err)
	}
	return nil
}

// Count returns the number of stored passages.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM passages").Scan(&count)
	return count, err
}

func scanPassage(rows *sql.Rows) (Passage, error) {
	var p Passage
	var blob []byte
	var createdAt string
	if err := rows.Scan(&p.ID, &p.DocumentID, &p.OwnerID, &p.Text, &blob, &createdAt); err != nil {
		return Passage{}, fmt.Errorf("scanning passage: %w", err)
	}
	vector, err := decodeFloat32s(blob)
	if err != nil {
		return Passage{}, fmt.Errorf("decoding embedding for %s: %w", p.ID, err)
	}
	p.Vector = vector
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Passage{}, fmt.Errorf("parsing created_at for %s: %w", p.ID, err)
	}
	p.CreatedAt = t
	return p, nil
}

// sortBySimilarity sorts by similarity descending. Insertion sort is fine
// for topK-sized slices.
func sortBySimilarity(results []Scored) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Similarity > results[j-1].Similarity; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it when capacity allows.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). aNorm is precomputed once per
// query.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score, used to track the
// top-K candidates during the scan phase.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
