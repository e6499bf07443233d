package coordinator

import (
	"context"
	"os"
	"path/filepath"

	"github.com/wbrown/lazy_corpus/lazy"
)

// Elector
// Decides whether this participant is the one that builds the store at
// `path`. When elected, `release` must be called once the build is over.
type Elector interface {
	Elect(ctx context.Context, path string) (elected bool, release func(),
		err error)
}

// RankElector
// Elects the participant of rank 0, as in a distributed job where every
// process knows its rank.
type RankElector struct {
	Rank int
}

func (e RankElector) Elect(ctx context.Context, path string) (bool, func(),
	error) {
	return e.Rank == 0, func() {}, ctx.Err()
}

// LockElector
// Elects whichever process first takes an exclusive, non-blocking file lock
// on the store's `.build.lock`. The lock is dropped by the OS if the builder
// dies, which lets waiters detect a vanished builder.
type LockElector struct{}

func (LockElector) Elect(ctx context.Context, path string) (bool, func(),
	error) {
	if err := ctx.Err(); err != nil {
		return false, nil, err
	}
	if err := os.MkdirAll(lazy.StoreDir(path), 0755); err != nil {
		return false, nil, err
	}
	f, err := os.OpenFile(filepath.Join(lazy.StoreDir(path), lockFile),
		os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return false, nil, err
	}
	locked, err := tryLock(f)
	if err != nil || !locked {
		f.Close()
		return false, nil, err
	}
	return true, func() {
		_ = unlock(f)
		_ = f.Close()
	}, nil
}
