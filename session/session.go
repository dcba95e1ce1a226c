// Package session holds the process-global state a MEF recording
// session shares across every channel and annotation writer opened
// against it: the lazily-derived recording time offset, the session-wide
// GMT offset, and the manifest mutex.
package session

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// State is shared by every channel.Writer and annotation.Writer opened
// against the same session directory. The zero value is not usable;
// construct with New.
type State struct {
	RootDir     string
	SessionName string
	GMTOffset   int

	anonymize bool
	group     singleflight.Group
	mu        sync.Mutex
	offset    int64
	offsetSet bool

	manifestMu sync.Mutex
}

// New constructs session state for a recording rooted at rootDir/sessionName.
// gmtOffsetHours is persisted into every segment's metadata section 3 on
// every block, per the original implementation's behavior (spec.md
// mentions it only as used on first block; channel.Writer carries it
// forward on every subsequent flush too).
func New(rootDir, sessionName string, gmtOffsetHours int, anonymize bool) *State {
	return &State{RootDir: rootDir, SessionName: sessionName, GMTOffset: gmtOffsetHours, anonymize: anonymize}
}

// RecordingTimeOffset returns the session's anonymization time offset,
// deriving it exactly once from firstBlockTime the first time any
// channel calls this. Concurrent callers racing to initialize it all
// observe the same derived value and only one of them actually computes
// it, via singleflight.
func (s *State) RecordingTimeOffset(firstBlockTime int64) int64 {
	if !s.anonymize {
		return 0
	}
	s.mu.Lock()
	if s.offsetSet {
		defer s.mu.Unlock()
		return s.offset
	}
	s.mu.Unlock()

	v, _, _ := s.group.Do("recording_time_offset", func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.offsetSet {
			// A fixed, large negative offset shifts every timestamp into
			// the past by a consistent amount derived from the first
			// block, matching the single process-global anonymization
			// shift the original computes once per recording.
			s.offset = -firstBlockTime
			s.offsetSet = true
		}
		return s.offset, nil
	})
	return v.(int64)
}

// ApplyRecordingTimeOffset shifts t by the session's anonymization
// offset (a no-op, offset 0, when anonymization is disabled or not yet
// derived).
func (s *State) ApplyRecordingTimeOffset(t int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return t + s.offset
}

// LockManifest guards concurrent channel creation's read-modify-append
// of the session's manifest file.
func (s *State) LockManifest()   { s.manifestMu.Lock() }
func (s *State) UnlockManifest() { s.manifestMu.Unlock() }

// Driveable is the subset of channel.FeedDriver's behavior DriveChannels
// needs: something that consumes its own feed to completion and reports
// an error.
type Driveable interface {
	Drive(ctx context.Context) error
}

// DriveChannels runs each writer's Drive concurrently, each in its own
// goroutine, cancelling the group and returning the first error if any
// writer fails — the "multiple channels may be driven in parallel
// threads" case of spec.md §5, with each channel still single-threaded
// internally.
func DriveChannels(ctx context.Context, writers []Driveable) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range writers {
		w := w
		g.Go(func() error {
			return w.Drive(gctx)
		})
	}
	return g.Wait()
}
