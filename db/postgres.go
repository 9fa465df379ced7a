package db

import (
	"encoding/json"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/matthiasdebernardini/bdk"
)

const createChangeSetsSQL = `
CREATE TABLE IF NOT EXISTS changesets (
   id   BIGSERIAL PRIMARY KEY,
   data JSONB NOT NULL
)`

// PGStore is a change-set log in a Postgres table. Rows are ordered by
// a sequence id, so SELECT ... ORDER BY id replays the log oldest
// first and the data stays queryable with plain SQL.
type PGStore[A bdk.Anchor] struct {
	mtx sync.Mutex
	db  *sqlx.DB
}

// OpenPG connects and creates the changesets table if needed.
func OpenPG[A bdk.Anchor](connstr string) (*PGStore[A], error) {
	dbx, err := sqlx.Connect("postgres", connstr)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to postgres")
	}
	if _, err := dbx.Exec(createChangeSetsSQL); err != nil {
		dbx.Close()
		return nil, errors.Wrap(err, "creating changesets table")
	}
	log.Debugf("Opened postgres change set log")
	return &PGStore[A]{db: dbx}, nil
}

func (s *PGStore[A]) Append(cs bdk.ChangeSet[A]) error {
	if cs.IsEmpty() {
		return nil
	}
	data, err := json.Marshal(cs)
	if err != nil {
		return errors.Wrap(err, "encoding change set")
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	_, err = s.db.Exec(`INSERT INTO changesets (data) VALUES ($1)`, string(data))
	return errors.Wrap(err, "appending change set")
}

func (s *PGStore[A]) Replay(fn func(bdk.ChangeSet[A]) error) error {
	rows, err := s.db.Query(`SELECT data FROM changesets ORDER BY id`)
	if err != nil {
		return errors.Wrap(err, "reading change set log")
	}
	defer rows.Close()

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return errors.Wrap(err, "scanning change set row")
		}
		cs := bdk.NewChangeSet[A]()
		if err := json.Unmarshal(data, &cs); err != nil {
			return errors.Wrap(err, "decoding change set")
		}
		if err := fn(cs); err != nil {
			return err
		}
	}
	return errors.Wrap(rows.Err(), "replaying change set log")
}

func (s *PGStore[A]) Aggregate() (bdk.ChangeSet[A], error) {
	return aggregate[A](s)
}

func (s *PGStore[A]) Close() error {
	return s.db.Close()
}
