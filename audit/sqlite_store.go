package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // database/sql driver "sqlite"
)

type sqliteStore struct{ db *sql.DB }

// OpenSQLiteStore opens or creates a SQLite journal database at dsn.
func OpenSQLiteStore(dsn string) (Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS entries (
  idx   INTEGER PRIMARY KEY,
  ts    INTEGER NOT NULL,
  data  BLOB    NOT NULL,
  tagA  BLOB    NOT NULL,
  tagG  BLOB    NOT NULL
);
CREATE TABLE IF NOT EXISTS tail (
  id    INTEGER PRIMARY KEY CHECK(id=1),
  idx   INTEGER NOT NULL,
  tagA  BLOB    NOT NULL,
  tagG  BLOB    NOT NULL
);
CREATE TABLE IF NOT EXISTS anchors (
  idx   INTEGER PRIMARY KEY,
  key   BLOB NOT NULL,
  tagA  BLOB NOT NULL,
  tagG  BLOB NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db}, nil
}

// Append stores the entry, the tail and the optional anchor in one transaction.
func (s *sqliteStore) Append(e Entry, tail Tail, anchor *Anchor) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var maxIdx int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(idx),0) FROM entries`).Scan(&maxIdx); err != nil {
		return err
	}
	if uint64(maxIdx) != e.Index-1 {
		return fmt.Errorf("non-contiguous append: have %d, got %d", maxIdx, e.Index)
	}
	data := e.Data
	if data == nil {
		data = []byte{}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO entries(idx, ts, data, tagA, tagG) VALUES(?, ?, ?, ?, ?)`,
		e.Index, e.TS, data, e.TagA[:], e.TagG[:]); err != nil {
		return err
	}
	if anchor != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO anchors(idx, key, tagA, tagG) VALUES(?, ?, ?, ?)
			 ON CONFLICT(idx) DO UPDATE SET key=excluded.key, tagA=excluded.tagA, tagG=excluded.tagG`,
			anchor.Index, anchor.Key[:], anchor.TagA[:], anchor.TagG[:]); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tail(id, idx, tagA, tagG) VALUES(1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET idx=excluded.idx, tagA=excluded.tagA, tagG=excluded.tagG`,
		tail.Index, tail.TagA[:], tail.TagG[:]); err != nil {
		return err
	}
	return tx.Commit()
}

// Iter streams entries from startIdx in ascending order.
func (s *sqliteStore) Iter(startIdx uint64) (<-chan Entry, func() error, error) {
	ctx, cancel := context.WithCancel(context.Background())
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, ts, data, tagA, tagG FROM entries WHERE idx >= ? ORDER BY idx ASC`, startIdx)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	out := make(chan Entry, 64)
	go func() {
		defer close(out)
		defer rows.Close()
		defer cancel()
		for rows.Next() {
			var e Entry
			var tagA, tagG []byte
			if err := rows.Scan(&e.Index, &e.TS, &e.Data, &tagA, &tagG); err != nil {
				return
			}
			copy(e.TagA[:], tagA)
			copy(e.TagG[:], tagG)
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() error { cancel(); return nil }, nil
}

func scanAnchor(sc interface{ Scan(...any) error }) (Anchor, error) {
	var a Anchor
	var key, tagA, tagG []byte
	if err := sc.Scan(&a.Index, &key, &tagA, &tagG); err != nil {
		return a, err
	}
	if len(key) != KeySize || len(tagA) != 32 || len(tagG) != 32 {
		return a, fmt.Errorf("invalid anchor sizes at %d", a.Index)
	}
	copy(a.Key[:], key)
	copy(a.TagA[:], tagA)
	copy(a.TagG[:], tagG)
	return a, nil
}

func (s *sqliteStore) AnchorAt(i uint64) (Anchor, bool, error) {
	a, err := scanAnchor(s.db.QueryRow(`SELECT idx, key, tagA, tagG FROM anchors WHERE idx=?`, i))
	if errors.Is(err, sql.ErrNoRows) {
		return Anchor{}, false, nil
	}
	if err != nil {
		return Anchor{}, false, err
	}
	return a, true, nil
}

func (s *sqliteStore) ListAnchors() ([]Anchor, error) {
	rows, err := s.db.Query(`SELECT idx, key, tagA, tagG FROM anchors ORDER BY idx ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Anchor
	for rows.Next() {
		a, err := scanAnchor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Tail() (Tail, bool, error) {
	var t Tail
	var tagA, tagG []byte
	err := s.db.QueryRow(`SELECT idx, tagA, tagG FROM tail WHERE id=1`).Scan(&t.Index, &tagA, &tagG)
	if errors.Is(err, sql.ErrNoRows) {
		return t, false, nil
	}
	if err != nil {
		return t, false, err
	}
	if len(tagA) != 32 || len(tagG) != 32 {
		return t, false, fmt.Errorf("invalid tail sizes")
	}
	copy(t.TagA[:], tagA)
	copy(t.TagG[:], tagG)
	return t, true, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }
