package store

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// fileLock is an advisory flock(2)-based lock on the Store's lock file.
// A writable Store takes an exclusive lock on open and releases it on
// close; a read-only Store takes a shared lock so it observes a
// consistent snapshot while a writer commits. sqlite's own busy-timeout
// would block rather than fail fast, which is why the Store layers its
// own lock on top: a second concurrent writer must fail immediately
// with ErrLocked instead of stalling.
type fileLock struct {
	f *os.File
}

func acquireLock(path string, exclusive bool) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening lock file: %v", ErrIOFailure, err)
	}

	how := unix.LOCK_SH | unix.LOCK_NB
	if exclusive {
		how = unix.LOCK_EX | unix.LOCK_NB
	}

	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("%w: flock: %v", ErrIOFailure, err)
	}

	return &fileLock{f: f}, nil
}

func (l *fileLock) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
