// Package db persists bdk change sets. A store is an append-only log;
// replaying it in order (or applying its merged aggregate) onto an
// empty graph and chain reconstructs the state that produced it.
package db

import (
	"github.com/matthiasdebernardini/bdk"
)

// Store is an append-only change-set log.
type Store[A bdk.Anchor] interface {
	// Append records one change set at the end of the log. Empty
	// change sets are skipped.
	Append(cs bdk.ChangeSet[A]) error

	// Replay calls fn for every recorded change set, oldest first.
	Replay(fn func(bdk.ChangeSet[A]) error) error

	// Aggregate returns the merged union of the whole log.
	Aggregate() (bdk.ChangeSet[A], error)

	Close() error
}

func aggregate[A bdk.Anchor](s Store[A]) (bdk.ChangeSet[A], error) {
	agg := bdk.NewChangeSet[A]()
	err := s.Replay(func(cs bdk.ChangeSet[A]) error {
		agg.Merge(cs)
		return nil
	})
	if err != nil {
		return bdk.ChangeSet[A]{}, err
	}
	return agg, nil
}
