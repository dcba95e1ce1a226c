package sys

import (
	"io"
	"os"
	"time"
)

// DefaultLockTimeout is how long AcquireWriterLock waits for a contended
// segment or annotation lock before giving up, used by every production
// caller in this module. It is a var, not a const, so a CLI can override
// it once at startup from configuration (see config.ParseDuration).
var DefaultLockTimeout = 5 * time.Second

// FileHandle is the minimal file abstraction every writer in this module
// depends on instead of *os.File directly, so tests can substitute an
// in-memory fake without touching disk.
type FileHandle interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.WriterAt
	io.Seeker

	Sync() error
	Truncate(size int64) error
	Name() string
}

var _ FileHandle = (*realFile)(nil)

type realFile struct {
	f *os.File
}

// Create opens name for reading and writing, creating it or truncating it
// if it already exists; the open itself takes no lock. Every segment, index, record and manifest file is opened this
// way exactly once by the writer that owns it.
func Create(name string) (FileHandle, error) {
	return OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

// OpenReadWrite opens an existing file for reading and appending writes,
// used when reopening a previously closed segment (append mode) or an
// annotation channel that already has records.
func OpenReadWrite(name string) (FileHandle, error) {
	return OpenFile(name, os.O_RDWR, 0o644)
}

// OpenReadOnly opens an existing file for reading only, used by readers
// that never write to the file (metadata lookups, manifest scans).
func OpenReadOnly(name string) (FileHandle, error) {
	return OpenFile(name, os.O_RDONLY, 0)
}

func OpenFile(name string, flag int, perm os.FileMode) (FileHandle, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &realFile{f: f}, nil
}

func (r *realFile) Read(p []byte) (int, error)              { return r.f.Read(p) }
func (r *realFile) Write(p []byte) (int, error)              { return r.f.Write(p) }
func (r *realFile) ReadAt(p []byte, off int64) (int, error)  { return r.f.ReadAt(p, off) }
func (r *realFile) WriteAt(p []byte, off int64) (int, error) { return r.f.WriteAt(p, off) }

func (r *realFile) Seek(offset int64, whence int) (int64, error) {
	return r.f.Seek(offset, whence)
}

func (r *realFile) Sync() error               { return r.f.Sync() }
func (r *realFile) Truncate(size int64) error { return r.f.Truncate(size) }
func (r *realFile) Name() string              { return r.f.Name() }
func (r *realFile) Close() error              { return r.f.Close() }

// MkdirAll creates dir and any missing parents, treating an already
// existing directory as success. This is the direct filesystem call that
// replaces shelling out to an external mkdir process.
func MkdirAll(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
