// Package updatestore owns the durable per-index queue of UpdateJobs: their
// metadata in SQLite, their payload blobs on disk, and the restart-safe
// at-least-once recovery contract spec'd for this tier.
package updatestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/8fs-io/ftsd/internal/ftypes"
	apperrors "github.com/8fs-io/ftsd/pkg/errors"
)

// defaultPayloadChunkSize is used when a caller opens a Store via Open
// without specifying a chunk size (e.g. in tests).
const defaultPayloadChunkSize = 256 * 1024

// Store is the SQLite + filesystem backed persistence layer for one
// index's update jobs.
type Store struct {
	indexID          ftypes.IndexId
	dir              string
	payloadsDir      string
	db               *sql.DB
	payloadChunkSize int
}

// Open opens (creating if absent) the job store rooted at dir for indexID,
// using the default payload chunk size. Use OpenWithChunkSize to override it.
func Open(dir string, indexID ftypes.IndexId) (*Store, error) {
	return OpenWithChunkSize(dir, indexID, defaultPayloadChunkSize)
}

// OpenWithChunkSize opens the job store rooted at dir for indexID, streaming
// payload writes in chunks of payloadChunkBytes.
func OpenWithChunkSize(dir string, indexID ftypes.IndexId, payloadChunkBytes int) (*Store, error) {
	if payloadChunkBytes <= 0 {
		payloadChunkBytes = defaultPayloadChunkSize
	}

	payloadsDir := filepath.Join(dir, "payloads")
	if err := os.MkdirAll(payloadsDir, 0700); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeIoError, "failed to create payloads directory", err)
	}

	dbPath := filepath.Join(dir, "jobs.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeIoError, "failed to open job store", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrCodeIoError, "failed to initialize job store schema", err)
	}

	return &Store{indexID: indexID, dir: dir, payloadsDir: payloadsDir, db: db, payloadChunkSize: payloadChunkBytes}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	update_id    INTEGER PRIMARY KEY,
	meta         BLOB NOT NULL,
	payload_path TEXT,
	state        TEXT NOT NULL,
	result       BLOB,
	error        TEXT,
	enqueued_at  DATETIME NOT NULL,
	started_at   DATETIME,
	finished_at  DATETIME
);
`

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Remove closes the store and deletes its entire on-disk directory,
// including any payload blobs still pending. Used when an index is
// deleted and its update store is being torn down for good.
func (s *Store) Remove() error {
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to remove update store directory", err)
	}
	return nil
}

// WritePayload streams r into a new payload file for the job about to be
// submitted, chunked so the whole body is never buffered in memory, and
// fsyncs before returning. The caller passes the returned path to Submit.
func (s *Store) WritePayload(updateID int64, r io.Reader) (string, error) {
	path := filepath.Join(s.payloadsDir, fmt.Sprintf("%d", updateID))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeIoError, "failed to create payload file", err)
	}
	defer f.Close()

	chunk := make(chan []byte, 4)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunk)
		buf := make([]byte, s.payloadChunkSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				b := make([]byte, n)
				copy(b, buf[:n])
				chunk <- b
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- err
				return
			}
		}
	}()

	for b := range chunk {
		if _, err := f.Write(b); err != nil {
			return "", apperrors.Wrap(apperrors.ErrCodeIoError, "failed to write payload chunk", err)
		}
	}
	select {
	case err := <-errCh:
		return "", apperrors.Wrap(apperrors.ErrCodeIoError, "failed to read payload", err)
	default:
	}

	if err := f.Sync(); err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeIoError, "failed to fsync payload file", err)
	}

	return path, nil
}

// NextUpdateID computes the next update_id for this index (MAX+1) without
// committing a row, for callers that must name the payload file before
// the job metadata is known (e.g. to pass to WritePayload). Nothing is
// reserved: two calls with no Submit in between return the same id.
func (s *Store) NextUpdateID() (int64, error) {
	row := s.db.QueryRow(`SELECT COALESCE(MAX(update_id), 0) + 1 FROM jobs`)
	var next int64
	if err := row.Scan(&next); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrCodeIoError, "failed to compute next update id", err)
	}
	return next, nil
}

// Submit inserts a new Enqueued job row. updateID must come from
// NextUpdateID (or be reserved by the caller) to avoid a race between
// the id computation and the insert; callers serialize submissions
// through the tier actor's single mailbox goroutine.
func (s *Store) Submit(updateID int64, meta ftypes.JobMeta, payloadPath string) (*ftypes.UpdateJob, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeMalformedPayload, "failed to marshal job meta", err)
	}

	job := &ftypes.UpdateJob{
		UpdateID:    updateID,
		IndexID:     s.indexID,
		Meta:        meta,
		PayloadPath: payloadPath,
		State:       ftypes.StateEnqueued,
		EnqueuedAt:  time.Now().UTC(),
	}

	_, err = s.db.Exec(
		`INSERT INTO jobs (update_id, meta, payload_path, state, enqueued_at) VALUES (?, ?, ?, ?, ?)`,
		updateID, metaJSON, payloadPath, string(ftypes.StateEnqueued), job.EnqueuedAt,
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeIoError, "failed to insert job row", err)
	}

	return job, nil
}

// Get fetches a single job by id.
func (s *Store) Get(updateID int64) (*ftypes.UpdateJob, error) {
	row := s.db.QueryRow(
		`SELECT update_id, meta, payload_path, state, result, error, enqueued_at, started_at, finished_at
		 FROM jobs WHERE update_id = ?`, updateID,
	)
	job, err := scanJob(row, s.indexID)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrUpdateNotFound.WithContext("update_id", updateID)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeIoError, "failed to read job row", err)
	}
	return job, nil
}

// List returns every job for this index, ordered by update_id.
func (s *Store) List() ([]*ftypes.UpdateJob, error) {
	rows, err := s.db.Query(
		`SELECT update_id, meta, payload_path, state, result, error, enqueued_at, started_at, finished_at
		 FROM jobs ORDER BY update_id ASC`,
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeIoError, "failed to list jobs", err)
	}
	defer rows.Close()

	var jobs []*ftypes.UpdateJob
	for rows.Next() {
		job, err := scanJob(rows, s.indexID)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeIoError, "failed to scan job row", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// NextEnqueued returns the lowest update_id job still in Enqueued state,
// or nil if none is pending.
func (s *Store) NextEnqueued() (*ftypes.UpdateJob, error) {
	row := s.db.QueryRow(
		`SELECT update_id, meta, payload_path, state, result, error, enqueued_at, started_at, finished_at
		 FROM jobs WHERE state = ? ORDER BY update_id ASC LIMIT 1`, string(ftypes.StateEnqueued),
	)
	job, err := scanJob(row, s.indexID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeIoError, "failed to read next enqueued job", err)
	}
	return job, nil
}

// RecoverProcessing re-enqueues any job left Processing across a crash,
// per this tier's at-least-once restart contract, returning the jobs moved.
func (s *Store) RecoverProcessing() ([]*ftypes.UpdateJob, error) {
	rows, err := s.db.Query(
		`SELECT update_id, meta, payload_path, state, result, error, enqueued_at, started_at, finished_at
		 FROM jobs WHERE state = ?`, string(ftypes.StateProcessing),
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeIoError, "failed to scan for interrupted jobs", err)
	}
	var stale []*ftypes.UpdateJob
	for rows.Next() {
		job, err := scanJob(rows, s.indexID)
		if err != nil {
			rows.Close()
			return nil, apperrors.Wrap(apperrors.ErrCodeIoError, "failed to scan interrupted job row", err)
		}
		stale = append(stale, job)
	}
	rows.Close()

	for _, job := range stale {
		if _, err := s.db.Exec(
			`UPDATE jobs SET state = ?, started_at = NULL WHERE update_id = ?`,
			string(ftypes.StateEnqueued), job.UpdateID,
		); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeIoError, "failed to re-enqueue interrupted job", err)
		}
		job.State = ftypes.StateEnqueued
		job.StartedAt = nil
	}
	return stale, nil
}

// HasProcessingJob reports whether any job for this index is currently
// in the Processing state.
func (s *Store) HasProcessingJob() (bool, error) {
	row := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM jobs WHERE state = ?)`, string(ftypes.StateProcessing))
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, apperrors.Wrap(apperrors.ErrCodeIoError, "failed to check for processing jobs", err)
	}
	return exists, nil
}

// MarkProcessing transitions a job from Enqueued to Processing.
func (s *Store) MarkProcessing(updateID int64) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE jobs SET state = ?, started_at = ? WHERE update_id = ?`,
		string(ftypes.StateProcessing), now, updateID,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to mark job processing", err)
	}
	return nil
}

// Finish writes a terminal state (Processed or Failed) for updateID and
// deletes the payload blob, preserving the invariant that a payload file
// exists iff a non-terminal job still references it.
func (s *Store) Finish(updateID int64, state ftypes.JobState, result *ftypes.UpdateResult, jobErr string) error {
	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrCodeInternal, "failed to marshal job result", err)
		}
	}

	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE jobs SET state = ?, result = ?, error = ?, finished_at = ? WHERE update_id = ?`,
		string(state), resultJSON, jobErr, now, updateID,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to write terminal job state", err)
	}

	path := filepath.Join(s.payloadsDir, fmt.Sprintf("%d", updateID))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to remove payload blob", err)
	}
	return nil
}

// Snapshot copies the live jobs.db into dir using SQLite's VACUUM INTO,
// then copies any payload blobs still referenced by non-terminal jobs.
func (s *Store) Snapshot(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to create snapshot directory", err)
	}

	destDB := filepath.Join(dir, "jobs.db")
	if _, err := s.db.Exec(`VACUUM INTO ?`, destDB); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to snapshot job store", err)
	}

	destPayloads := filepath.Join(dir, "payloads")
	if err := os.MkdirAll(destPayloads, 0700); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to create snapshot payloads directory", err)
	}

	jobs, err := s.List()
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if job.Terminal() || job.PayloadPath == "" {
			continue
		}
		if err := copyFile(job.PayloadPath, filepath.Join(destPayloads, filepath.Base(job.PayloadPath))); err != nil {
			return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to copy payload blob for snapshot", err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner, indexID ftypes.IndexId) (*ftypes.UpdateJob, error) {
	var (
		updateID    int64
		metaJSON    []byte
		payloadPath sql.NullString
		state       string
		resultJSON  []byte
		jobErr      sql.NullString
		enqueuedAt  time.Time
		startedAt   sql.NullTime
		finishedAt  sql.NullTime
	)

	if err := row.Scan(&updateID, &metaJSON, &payloadPath, &state, &resultJSON, &jobErr, &enqueuedAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}

	var meta ftypes.JobMeta
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, err
	}

	var result *ftypes.UpdateResult
	if len(resultJSON) > 0 {
		result = &ftypes.UpdateResult{}
		if err := json.Unmarshal(resultJSON, result); err != nil {
			return nil, err
		}
	}

	job := &ftypes.UpdateJob{
		UpdateID:    updateID,
		IndexID:     indexID,
		Meta:        meta,
		PayloadPath: payloadPath.String,
		State:       ftypes.JobState(state),
		Result:      result,
		Error:       jobErr.String,
		EnqueuedAt:  enqueuedAt,
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	return job, nil
}
