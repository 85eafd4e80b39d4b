// Package checkpoint keeps a SQLite catalogue of encoded VPYLM snapshots
// taken during training.
package checkpoint

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no checkpoint matches.
var ErrNotFound = errors.New("checkpoint: not found")

// Record is one snapshot of a training run.
type Record struct {
	ID                 string
	Epoch              int
	CreatedAt          time.Time
	TrainLogLikelihood float64
	TestPerplexity     float64
	NumNodes           int
	NumCustomers       int
	Depth              int
	Model              []byte
}

// Store is a checkpoint catalogue backed by one SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	epoch INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	train_log_likelihood REAL NOT NULL,
	test_perplexity REAL,
	num_nodes INTEGER NOT NULL,
	num_customers INTEGER NOT NULL,
	depth INTEGER NOT NULL,
	model BLOB
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_epoch ON checkpoints(epoch);
`

const columns = `id, epoch, created_at, train_log_likelihood, test_perplexity, num_nodes, num_customers, depth, model`

// Open opens or creates the catalogue at path with WAL mode enabled.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer at a time
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{
		db:      db,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// SetLogger replaces the discard logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Now(), s.entropy).String()
}

// Put inserts rec, assigning an id and a creation time when they are empty.
// It returns the stored id.
func (s *Store) Put(ctx context.Context, rec Record) (string, error) {
	if rec.ID == "" {
		rec.ID = s.newID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	// perplexity is NaN when there is no test data
	var perplexity sql.NullFloat64
	if !math.IsNaN(rec.TestPerplexity) {
		perplexity = sql.NullFloat64{Float64: rec.TestPerplexity, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Epoch, rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.TrainLogLikelihood, perplexity,
		rec.NumNodes, rec.NumCustomers, rec.Depth, rec.Model,
	)
	if err != nil {
		return "", fmt.Errorf("put checkpoint %v: %w", rec.ID, err)
	}
	s.logger.Debug("checkpoint stored", slog.String("id", rec.ID), slog.Int("epoch", rec.Epoch), slog.Int("bytes", len(rec.Model)))
	return rec.ID, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner, withModel bool) (Record, error) {
	var (
		rec        Record
		createdAt  string
		perplexity sql.NullFloat64
		model      []byte
	)
	if err := row.Scan(&rec.ID, &rec.Epoch, &createdAt, &rec.TrainLogLikelihood, &perplexity, &rec.NumNodes, &rec.NumCustomers, &rec.Depth, &model); err != nil {
		return Record{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("checkpoint %v: created_at: %w", rec.ID, err)
	}
	rec.CreatedAt = t
	rec.TestPerplexity = perplexity.Float64
	if !perplexity.Valid {
		rec.TestPerplexity = math.NaN()
	}
	if withModel {
		rec.Model = model
	}
	return rec, nil
}

// Get returns the checkpoint with id.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM checkpoints WHERE id = ?`, id)
	rec, err := scanRecord(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %v", ErrNotFound, id)
	}
	return rec, err
}

// Latest returns the checkpoint with the highest epoch, the most recently
// stored one on ties.
func (s *Store) Latest(ctx context.Context) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM checkpoints ORDER BY epoch DESC, id DESC LIMIT 1`)
	rec, err := scanRecord(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// Restore decodes the model blob of checkpoint id into model, or of the
// latest checkpoint when id is empty. model is left untouched on error.
func (s *Store) Restore(ctx context.Context, id string, model encoding.BinaryUnmarshaler) (Record, error) {
	var rec Record
	var err error
	if id == "" {
		rec, err = s.Latest(ctx)
	} else {
		rec, err = s.Get(ctx, id)
	}
	if err != nil {
		return Record{}, err
	}
	if err := model.UnmarshalBinary(rec.Model); err != nil {
		return Record{}, fmt.Errorf("restore checkpoint %v: %w", rec.ID, err)
	}
	s.logger.Debug("checkpoint restored", slog.String("id", rec.ID), slog.Int("epoch", rec.Epoch))
	return rec, nil
}

// List returns every checkpoint in epoch order without the model blobs.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM checkpoints ORDER BY epoch ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows, false)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
