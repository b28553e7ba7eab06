// Package walker recursively traverses a Maildir tree and yields candidate
// messages for the indexer, honoring Maildir conventions: it descends only
// into cur/new/tmp and their container directories, skips tmp/, and can
// skip subtrees marked with a .noupdate file or whose directory mtime
// hasn't advanced since the last run.
package walker

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/emersion/go-maildir"

	"github.com/indexd/gomu/internal/logging"
)

// Candidate is one file discovered by a walk, ready for the parser.
type Candidate struct {
	AbsPath     string
	RelMaildir  string // path of the containing maildir, relative to root
	MTime       time.Time
	Inode       uint64
	InNewFolder bool
}

// Policy configures how a walk behaves. The zero value is the most
// conservative, correctness-first configuration.
type Policy struct {
	// NoupdateFilename names the marker file that excludes a subtree.
	// Defaults to ".noupdate" when empty.
	NoupdateFilename string
	// IgnoreNoupdate disables the .noupdate check entirely.
	IgnoreNoupdate bool
	// LazyCheck skips a directory whose mtime is not newer than
	// DirSeenMTime's answer for that directory. Off by default: not all
	// filesystems bump a directory's mtime on file rename.
	LazyCheck bool
	// DirSeenMTime, when LazyCheck is enabled, returns the max mtime
	// previously observed for a given absolute directory path, or the
	// zero Time if never seen.
	DirSeenMTime func(dir string) time.Time
	// InodeOrder emits directory entries sorted by inode instead of by
	// name, to improve locality on spinning media.
	InodeOrder bool
}

func (p Policy) noupdateName() string {
	if p.NoupdateFilename == "" {
		return ".noupdate"
	}
	return p.NoupdateFilename
}

// Walk traverses root and sends one Candidate per message file found in
// cur/ or new/ subdirectories to out. It closes out when the walk finishes. Errors reading individual directories are logged and
// skipped; Walk itself only returns an error if root cannot be opened at
// all.
func Walk(root string, policy Policy, log *logging.Logger, out chan<- Candidate) error {
	defer close(out)

	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("walker: root is not a directory")
	}

	visited := make(map[uint64]bool)
	return walkDir(root, root, policy, log, visited, out)
}

// walkDir recurses through dir, which lies under root. It treats dir as a
// maildir subtree root the moment it finds cur/ and new/ children.
func walkDir(root, dir string, policy Policy, log *logging.Logger, visited map[uint64]bool, out chan<- Candidate) error {
	st, err := os.Lstat(dir)
	if err != nil {
		log.Warn("walker: stat failed", "dir", dir, "error", err)
		return nil
	}
	if st.Mode()&os.ModeSymlink != 0 {
		real, err := filepath.EvalSymlinks(dir)
		if err != nil {
			log.Warn("walker: broken symlink", "dir", dir, "error", err)
			return nil
		}
		rst, err := os.Stat(real)
		if err != nil {
			return nil
		}
		if ino, ok := inodeOf(rst); ok {
			if visited[ino] {
				return nil // loop
			}
			visited[ino] = true
		}
		dir = real
	} else if ino, ok := inodeOf(st); ok {
		if visited[ino] {
			return nil
		}
		visited[ino] = true
	}

	if !policy.IgnoreNoupdate {
		if _, err := os.Stat(filepath.Join(dir, policy.noupdateName())); err == nil {
			return nil
		}
	}

	if policy.LazyCheck && policy.DirSeenMTime != nil {
		if !st.ModTime().After(policy.DirSeenMTime(dir)) {
			return nil
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn("walker: unreadable directory", "dir", dir, "error", err)
		return nil
	}
	if policy.InodeOrder {
		entries = sortByInode(dir, entries)
	}

	hasCur, hasNew := false, false
	for _, e := range entries {
		if e.IsDir() {
			switch e.Name() {
			case "cur":
				hasCur = true
			case "new":
				hasNew = true
			}
		}
	}

	if hasCur || hasNew {
		relMaildir, _ := filepath.Rel(root, dir)
		if hasCur {
			if err := emitLeaf(filepath.Join(dir, "cur"), relMaildir, false, policy, log, out); err != nil {
				return err
			}
		}
		if hasNew {
			if err := emitLeaf(filepath.Join(dir, "new"), relMaildir, true, policy, log, out); err != nil {
				return err
			}
		}
		// tmp/ is intentionally never scanned.
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		switch e.Name() {
		case "cur", "new", "tmp":
			continue
		}
		if err := walkDir(root, filepath.Join(dir, e.Name()), policy, log, visited, out); err != nil {
			return err
		}
	}
	return nil
}

func emitLeaf(leaf, relMaildir string, inNew bool, policy Policy, log *logging.Logger, out chan<- Candidate) error {
	entries, err := os.ReadDir(leaf)
	if err != nil {
		log.Warn("walker: unreadable leaf", "dir", leaf, "error", err)
		return nil
	}
	if policy.InodeOrder {
		entries = sortByInode(leaf, entries)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		var inode uint64
		if n, ok := inodeOf(info); ok {
			inode = n
		}
		out <- Candidate{
			AbsPath:     filepath.Join(leaf, e.Name()),
			RelMaildir:  relMaildir,
			MTime:       info.ModTime(),
			Inode:       inode,
			InNewFolder: inNew,
		}
	}
	return nil
}

// DecodeFlags reads the maildir flags for filename (as found under
// leafDir, a message's containing cur/ or new/ directory) using
// go-maildir, the same library the teacher's maildir store uses for
// on-disk flag manipulation. go-maildir's Dir.Flags only ever looks
// under cur/, matching the convention that new/ messages carry no info
// suffix yet; callers should fall back to parsing the filename suffix
// directly when this returns an error.
func DecodeFlags(leafDir, filename string) ([]maildir.Flag, error) {
	d := maildir.Dir(filepath.Dir(leafDir))
	key := filename
	if idx := strings.IndexByte(filename, ':'); idx >= 0 {
		key = filename[:idx]
	}
	return d.Flags(key)
}

func inodeOf(info fs.FileInfo) (uint64, bool) {
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return sys.Ino, true
}

func sortByInode(dir string, entries []os.DirEntry) []os.DirEntry {
	type withInode struct {
		entry os.DirEntry
		inode uint64
	}
	tmp := make([]withInode, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		var ino uint64
		if err == nil {
			ino, _ = inodeOf(info)
		}
		tmp = append(tmp, withInode{e, ino})
	}
	for i := 1; i < len(tmp); i++ {
		j := i
		for j > 0 && tmp[j-1].inode > tmp[j].inode {
			tmp[j-1], tmp[j] = tmp[j], tmp[j-1]
			j--
		}
	}
	out := make([]os.DirEntry, len(tmp))
	for i, w := range tmp {
		out[i] = w.entry
	}
	return out
}
