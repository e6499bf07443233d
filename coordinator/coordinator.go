// Package coordinator makes sure a lazy store is built exactly once by one
// elected participant while every other participant waits for it.
//
// Readiness is observed through the filesystem: a store is ready when the
// finalized length index of every one of its streams exists. Waiters watch
// the store directory and poll at a fixed interval, so the protocol works
// across processes and hosts sharing a filesystem.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/wbrown/lazy_corpus/lazy"
)

const (
	DefaultPollInterval = time.Second
	DefaultFailureGrace = 30 * time.Second
)

// BuildFunc creates and finalizes every stream of a store.
type BuildFunc func(ctx context.Context) error

// Coordinator
// Ensures that the streams `tags` under `path` are finalized, running
// `build` only on the participant elected to build.
type Coordinator interface {
	Ensure(ctx context.Context, path string, tags []string,
		build BuildFunc) error
}

// FileCoordinator
// The filesystem barrier. The zero value elects rank 0, polls every second
// and waits forever, like a plain sleep loop would; set Timeout to bound
// the wait.
type FileCoordinator struct {
	Elector      Elector
	PollInterval time.Duration
	// Timeout bounds Wait. Zero waits until the store is ready, a failure
	// is observed or the context ends.
	Timeout time.Duration
	// FailureGrace is how old a `.failed` or `.building` marker may be,
	// relative to the start of a wait, and still be treated as this job's.
	FailureGrace time.Duration
	// DisableWatch skips fsnotify and relies on polling alone, for
	// filesystems that do not deliver events.
	DisableWatch bool
	Logger       *log.Logger
}

// NewFileCoordinator returns a coordinator using `elector` and defaults.
func NewFileCoordinator(elector Elector) *FileCoordinator {
	return &FileCoordinator{
		Elector:      elector,
		PollInterval: DefaultPollInterval,
		FailureGrace: DefaultFailureGrace,
	}
}

// Ready reports whether every stream in `tags` has a finalized index.
func (c *FileCoordinator) Ready(path string, tags []string) bool {
	for _, tag := range tags {
		if !lazy.Exists(path, tag) {
			return false
		}
	}
	return true
}

// Ensure
// Returns once all `tags` under `path` are ready. The elected participant
// builds them; everyone else waits.
func (c *FileCoordinator) Ensure(ctx context.Context, path string,
	tags []string, build BuildFunc) error {
	if len(tags) == 0 {
		return fmt.Errorf("coordinator: no streams given for %s", path)
	}
	if c.Ready(path, tags) {
		return nil
	}
	elected, release, err := c.elector().Elect(ctx, path)
	if err != nil {
		return err
	}
	if !elected {
		return c.Wait(ctx, path, tags)
	}
	defer release()
	// Another builder may have finished between the check and the election.
	if c.Ready(path, tags) {
		return nil
	}
	return c.build(ctx, path, tags, build)
}

// Rebuild
// Like Ensure, but the elected participant invalidates and rebuilds the
// store even when it is ready. Participants that are not elected wait as in
// Ensure, so they may return on the previous store if it is still ready.
func (c *FileCoordinator) Rebuild(ctx context.Context, path string,
	tags []string, build BuildFunc) error {
	if len(tags) == 0 {
		return fmt.Errorf("coordinator: no streams given for %s", path)
	}
	elected, release, err := c.elector().Elect(ctx, path)
	if err != nil {
		return err
	}
	if !elected {
		return c.Wait(ctx, path, tags)
	}
	defer release()
	for _, tag := range tags {
		if err = lazy.Invalidate(path, tag); err != nil {
			return err
		}
	}
	return c.build(ctx, path, tags, build)
}

func (c *FileCoordinator) build(ctx context.Context, path string,
	tags []string, build BuildFunc) (err error) {
	if err = os.MkdirAll(lazy.StoreDir(path), 0755); err != nil {
		return err
	}
	if err = removeMarker(path, failedMarker); err != nil {
		return err
	}
	marker := newMarker(tags)
	if err = writeMarker(path, buildingMarker, marker); err != nil {
		return err
	}
	c.logger().Printf("Building %s [%s] as %s",
		path, strings.Join(tags, ", "), marker.Owner)
	defer func() {
		buildSeconds.WithLabelValues(outcome(err)).Observe(
			time.Since(marker.Started).Seconds())
	}()

	err = build(ctx)
	if err == nil && !c.Ready(path, tags) {
		err = fmt.Errorf("coordinator: build of %s returned without "+
			"finalizing all of [%s]", path, strings.Join(tags, ", "))
	}
	if err != nil {
		marker.Finished = time.Now()
		marker.Error = err.Error()
		if markErr := writeMarker(path, failedMarker, marker); markErr != nil {
			c.logger().Printf("Could not record failure of %s: %v",
				path, markErr)
		}
		_ = removeMarker(path, buildingMarker)
		return err
	}
	c.logger().Printf("Built %s in %0.2fs", path,
		time.Since(marker.Started).Seconds())
	return removeMarker(path, buildingMarker)
}

// Wait
// Blocks until every stream in `tags` under `path` is ready. All streams
// are checked on every pass; one finished stream does not make a store
// ready.
func (c *FileCoordinator) Wait(ctx context.Context, path string,
	tags []string) (err error) {
	started := time.Now()
	defer func() {
		waitSeconds.WithLabelValues(outcome(err)).Observe(
			time.Since(started).Seconds())
	}()

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if !c.DisableWatch {
		if watcher, watchErr := c.watch(path); watchErr != nil {
			c.logger().Printf("Not watching %s, polling only: %v",
				lazy.StoreDir(path), watchErr)
		} else {
			defer watcher.Close()
			events = watcher.Events
			watchErrs = watcher.Errors
		}
	}
	var timeout <-chan time.Time
	if c.Timeout > 0 {
		timer := time.NewTimer(c.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	ticker := time.NewTicker(c.pollInterval())
	defer ticker.Stop()

	c.logger().Printf("Waiting for %s [%s]", path, strings.Join(tags, ", "))
	for {
		if done, checkErr := c.check(path, tags, started); done ||
			checkErr != nil {
			return checkErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return fmt.Errorf("%w: %s after %s", ErrWaitTimeout, path,
				c.Timeout)
		case <-ticker.C:
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		case watchErr, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
			} else {
				c.logger().Printf("Watch error on %s: %v", path, watchErr)
			}
		}
	}
}

// check returns true once the store is ready, or an error when the build
// is known to have failed.
func (c *FileCoordinator) check(path string, tags []string,
	started time.Time) (bool, error) {
	if c.Ready(path, tags) {
		return true, nil
	}
	failed, err := readMarker(path, failedMarker)
	if err != nil {
		return false, err
	}
	// Markers from before the grace window belong to an earlier job.
	since := started.Add(-c.failureGrace())
	if failed != nil && !failed.Finished.Before(since) {
		return false, fmt.Errorf("%w: %s by %s: %s", ErrBuildFailed, path,
			failed.Owner, failed.Error)
	}
	building, err := readMarker(path, buildingMarker)
	if err != nil {
		return false, err
	}
	if building != nil && !building.Started.Before(since) &&
		!building.alive() {
		// The builder may have finished right after the readiness check.
		if c.Ready(path, tags) {
			return true, nil
		}
		return false, fmt.Errorf("%w: pid %d on %s building %s",
			ErrBuilderGone, building.PID, building.Host, path)
	}
	return false, nil
}

func (m *Marker) alive() bool {
	host, err := os.Hostname()
	if err != nil || host != m.Host {
		return true
	}
	return processAlive(m.PID)
}

func (c *FileCoordinator) watch(path string) (*fsnotify.Watcher, error) {
	dir := lazy.StoreDir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	return watcher, nil
}

func (c *FileCoordinator) elector() Elector {
	if c.Elector == nil {
		return RankElector{}
	}
	return c.Elector
}

func (c *FileCoordinator) pollInterval() time.Duration {
	if c.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return c.PollInterval
}

func (c *FileCoordinator) failureGrace() time.Duration {
	if c.FailureGrace <= 0 {
		return DefaultFailureGrace
	}
	return c.FailureGrace
}

func (c *FileCoordinator) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

var _ Coordinator = (*FileCoordinator)(nil)
