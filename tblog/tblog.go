// Package tblog records scalars, histograms and images
// from training runs in a SQLite database.
package tblog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/vitae/vis"
)

// DatabaseName is the name of the database file inside a
// log directory.
const DatabaseName = "events.db"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS scalars (
	run_id TEXT NOT NULL,
	tag TEXT NOT NULL,
	step INTEGER NOT NULL,
	value REAL NOT NULL,
	wall_time REAL NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS histograms (
	run_id TEXT NOT NULL,
	tag TEXT NOT NULL,
	step INTEGER NOT NULL,
	count INTEGER NOT NULL,
	min REAL NOT NULL,
	max REAL NOT NULL,
	sum REAL NOT NULL,
	sum_squares REAL NOT NULL,
	edges TEXT NOT NULL,
	counts TEXT NOT NULL,
	wall_time REAL NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS images (
	run_id TEXT NOT NULL,
	tag TEXT NOT NULL,
	step INTEGER NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	path TEXT NOT NULL,
	wall_time REAL NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS scalars_tag ON scalars (run_id, tag, step);
CREATE INDEX IF NOT EXISTS histograms_tag ON histograms (run_id, tag, step);
`

// A Writer logs the events of one run.
//
// Several runs may share a log directory; every event is
// stored with the ID of the run that produced it.
type Writer struct {
	RunID string
	Dir   string

	db *sql.DB
}

// Open opens or creates the event database in a log
// directory and starts a new run.
func Open(dir string) (w *Writer, err error) {
	defer essentials.AddCtxTo("open event log", &err)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	dsn := filepath.Join(dir, DatabaseName) +
		"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	w = &Writer{RunID: uuid.New().String(), Dir: dir, db: db}
	if _, err := db.Exec("INSERT INTO runs (id) VALUES (?)", w.RunID); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

// Close closes the database.
func (w *Writer) Close() error {
	_, _ = w.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return w.db.Close()
}

// AddScalar records a scalar.
func (w *Writer) AddScalar(tag string, value float64, step int) error {
	_, err := w.db.Exec(
		"INSERT INTO scalars (run_id, tag, step, value, wall_time) VALUES (?, ?, ?, ?, ?)",
		w.RunID, tag, step, value, wallTime(),
	)
	if err != nil {
		return essentials.AddCtx("add scalar "+tag, err)
	}
	return nil
}

// AddHistogram records a histogram of the values.
//
// The bins are chosen automatically; see NewHistogram.
func (w *Writer) AddHistogram(tag string, values []float64, step int) error {
	h := NewHistogram(values)
	edges, err := json.Marshal(h.Edges)
	if err != nil {
		return err
	}
	counts, err := json.Marshal(h.Counts)
	if err != nil {
		return err
	}
	_, err = w.db.Exec(
		`INSERT INTO histograms (run_id, tag, step, count, min, max, sum, sum_squares,
			edges, counts, wall_time) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.RunID, tag, step, h.Count, h.Min, h.Max, h.Sum, h.SumSquares, string(edges),
		string(counts), wallTime(),
	)
	if err != nil {
		return essentials.AddCtx("add histogram "+tag, err)
	}
	return nil
}

// AddImage saves the image as a PNG file in the log
// directory and records it.
func (w *Writer) AddImage(tag string, img image.Image, step int) error {
	name := fmt.Sprintf("%s_%s_%06d.png", w.RunID[:8], sanitizeTag(tag), step)
	path := filepath.Join(w.Dir, "images", name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := vis.WritePNG(path, img); err != nil {
		return essentials.AddCtx("add image "+tag, err)
	}
	bounds := img.Bounds()
	_, err := w.db.Exec(
		`INSERT INTO images (run_id, tag, step, width, height, path, wall_time)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.RunID, tag, step, bounds.Dx(), bounds.Dy(), filepath.Join("images", name), wallTime(),
	)
	if err != nil {
		return essentials.AddCtx("add image "+tag, err)
	}
	return nil
}

// A ScalarEvent is one logged scalar.
type ScalarEvent struct {
	Step  int
	Value float64
}

// Scalars returns the values of a scalar tag logged by
// this run, ordered by step.
func (w *Writer) Scalars(tag string) ([]ScalarEvent, error) {
	rows, err := w.db.Query(
		"SELECT step, value FROM scalars WHERE run_id = ? AND tag = ? ORDER BY step, rowid",
		w.RunID, tag,
	)
	if err != nil {
		return nil, essentials.AddCtx("read scalars", err)
	}
	defer rows.Close()
	var res []ScalarEvent
	for rows.Next() {
		var e ScalarEvent
		if err := rows.Scan(&e.Step, &e.Value); err != nil {
			return nil, essentials.AddCtx("read scalars", err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// Histograms returns the histograms of a tag logged by
// this run, ordered by step.
func (w *Writer) Histograms(tag string) ([]*Histogram, error) {
	rows, err := w.db.Query(
		`SELECT step, count, min, max, sum, sum_squares, edges, counts FROM histograms
			WHERE run_id = ? AND tag = ? ORDER BY step, rowid`,
		w.RunID, tag,
	)
	if err != nil {
		return nil, essentials.AddCtx("read histograms", err)
	}
	defer rows.Close()
	var res []*Histogram
	for rows.Next() {
		var h Histogram
		var edges, counts string
		err := rows.Scan(&h.Step, &h.Count, &h.Min, &h.Max, &h.Sum, &h.SumSquares, &edges,
			&counts)
		if err != nil {
			return nil, essentials.AddCtx("read histograms", err)
		}
		if err := json.Unmarshal([]byte(edges), &h.Edges); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(counts), &h.Counts); err != nil {
			return nil, err
		}
		res = append(res, &h)
	}
	return res, rows.Err()
}

// ImagePaths returns the files of the images logged for a
// tag by this run, ordered by step.
func (w *Writer) ImagePaths(tag string) ([]string, error) {
	rows, err := w.db.Query(
		"SELECT path FROM images WHERE run_id = ? AND tag = ? ORDER BY step, rowid",
		w.RunID, tag,
	)
	if err != nil {
		return nil, essentials.AddCtx("read images", err)
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		res = append(res, filepath.Join(w.Dir, p))
	}
	return res, rows.Err()
}

func sanitizeTag(tag string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, tag)
}

func wallTime() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
