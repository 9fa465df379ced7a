package db

import (
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/matthiasdebernardini/bdk"
)

// Keys are 'c' followed by a big-endian sequence number, so LevelDB's
// byte-order iteration replays the log oldest first.
var changeSetPrefix = []byte("c")

// LevelDBStore is a change-set log in a LevelDB directory.
type LevelDBStore[A bdk.Anchor] struct {
	mtx  sync.Mutex
	db   *leveldb.DB
	next uint64
}

// OpenLevelDB opens (or creates) a store at path.
func OpenLevelDB[A bdk.Anchor](path string) (*LevelDBStore[A], error) {
	ldb, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "opening leveldb")
	}

	s := &LevelDBStore[A]{db: ldb}

	iter := ldb.NewIterator(util.BytesPrefix(changeSetPrefix), nil)
	if iter.Last() {
		s.next = binary.BigEndian.Uint64(iter.Key()[len(changeSetPrefix):]) + 1
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		ldb.Close()
		return nil, errors.Wrap(err, "scanning change set log")
	}

	log.Debugf("Opened change set log at %s, %d entries", path, s.next)
	return s, nil
}

func (s *LevelDBStore[A]) Append(cs bdk.ChangeSet[A]) error {
	if cs.IsEmpty() {
		return nil
	}
	data, err := json.Marshal(cs)
	if err != nil {
		return errors.Wrap(err, "encoding change set")
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if err := s.db.Put(seqKey(s.next), data, nil); err != nil {
		return errors.Wrap(err, "appending change set")
	}
	s.next++
	return nil
}

func (s *LevelDBStore[A]) Replay(fn func(bdk.ChangeSet[A]) error) error {
	iter := s.db.NewIterator(util.BytesPrefix(changeSetPrefix), nil)
	defer iter.Release()

	for iter.Next() {
		cs := bdk.NewChangeSet[A]()
		if err := json.Unmarshal(iter.Value(), &cs); err != nil {
			return errors.Wrapf(err, "decoding change set %x", iter.Key())
		}
		if err := fn(cs); err != nil {
			return err
		}
	}
	return errors.Wrap(iter.Error(), "replaying change set log")
}

func (s *LevelDBStore[A]) Aggregate() (bdk.ChangeSet[A], error) {
	return aggregate[A](s)
}

func (s *LevelDBStore[A]) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	key := make([]byte, len(changeSetPrefix)+8)
	copy(key, changeSetPrefix)
	binary.BigEndian.PutUint64(key[len(changeSetPrefix):], seq)
	return key
}
