package locks

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileTable is the multi-process cousin of Table: one advisory file lock
// per id-hash bucket, grounded on the same flock.New(lockPath) pattern the
// sync command uses to keep concurrent `bd` processes from racing on the
// same sync branch. Its locks hold across processes, not just across one
// process's goroutines. ReplicationBehavior does not use it: the engine's
// New takes only the in-process *Table.
type FileTable struct {
	dir     string
	buckets uint32
}

// DefaultBuckets bounds how many lock files FileTable creates; ids hash
// down into this many buckets rather than one file per id.
const DefaultBuckets = 256

// NewFileTable creates a FileTable rooted at dir, creating dir if needed.
func NewFileTable(dir string) (*FileTable, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("locks: create lock dir: %w", err)
	}
	return &FileTable{dir: dir, buckets: DefaultBuckets}, nil
}

// Lock blocks until the advisory lock for id's bucket is acquired and
// returns a function that releases it.
func (f *FileTable) Lock(id string) (func(), error) {
	path := filepath.Join(f.dir, f.bucketFile(id))
	fl := flock.New(path)
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("locks: acquire %s: %w", path, err)
	}
	return func() { _ = fl.Unlock() }, nil
}

func (f *FileTable) bucketFile(id string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return fmt.Sprintf("replication-%d.lock", h.Sum32()%f.buckets)
}
