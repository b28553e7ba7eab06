package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/indexd/gomu/internal/store"
)

const testMessage = `From: Alice <alice@example.com>
To: me@example.com
Subject: hello
Message-Id: <m1@example.com>
Date: Tue, 1 Aug 2023 12:00:00 +0000
Content-Type: text/plain

body text
`

func writeMaildirMessage(t *testing.T, root, box, subdir, name, content string) string {
	t.Helper()
	dir := filepath.Join(root, box, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func openTestStore(t *testing.T, root string) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(store.Options{
		DatabasePath:      filepath.Join(dir, "gomu.db"),
		ContactsPath:      filepath.Join(dir, "contacts"),
		LockPath:          filepath.Join(dir, "lock"),
		BatchSize:         10000,
		Mode:              store.CreateOrOpen,
		MaildirRoot:       root,
		PersonalAddresses: []string{"me@example.com"},
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func waitDone(t *testing.T, ix *Indexer) {
	t.Helper()
	ix.Wait()
	if ix.State() != Done {
		t.Fatalf("state = %v, want Done", ix.State())
	}
}

func TestIndexerScanAddsDocuments(t *testing.T) {
	root := t.TempDir()
	writeMaildirMessage(t, root, "INBOX", "cur", "1:2,S", testMessage)
	writeMaildirMessage(t, root, "INBOX", "cur", "2:2,", testMessage)

	s := openTestStore(t, root)
	ix := New(root, s, nil)

	if err := ix.Start(context.Background(), DefaultConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, ix)

	count, err := s.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("Count = %d, want 2", count)
	}

	prog := ix.Progress()
	if prog.Processed != 2 || prog.Updated != 2 {
		t.Fatalf("progress = %+v, want processed=2 updated=2", prog)
	}
}

func TestIndexerStartTwiceReturnsAlreadyRunning(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 50; i++ {
		writeMaildirMessage(t, root, "INBOX", "cur", fmt.Sprintf("msg%d:2,", i), testMessage)
	}

	s := openTestStore(t, root)
	ix := New(root, s, nil)

	if err := ix.Start(context.Background(), DefaultConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := ix.Start(context.Background(), DefaultConfig())
	if err != ErrAlreadyRunning {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}
	waitDone(t, ix)
}

func TestIndexerRescanSkipsUpToDateFiles(t *testing.T) {
	root := t.TempDir()
	writeMaildirMessage(t, root, "INBOX", "cur", "1:2,S", testMessage)

	s := openTestStore(t, root)
	ix := New(root, s, nil)

	if err := ix.Start(context.Background(), DefaultConfig()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, ix)

	ix2 := New(root, s, nil)
	if err := ix2.Start(context.Background(), DefaultConfig()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, ix2)

	prog := ix2.Progress()
	if prog.Processed != 1 {
		t.Fatalf("second run Processed = %d, want 1", prog.Processed)
	}
	if prog.Updated != 0 {
		t.Fatalf("second run Updated = %d, want 0 (file unchanged)", prog.Updated)
	}
}

func TestIndexerCleanupRemovesMissingFiles(t *testing.T) {
	root := t.TempDir()
	path := writeMaildirMessage(t, root, "INBOX", "cur", "1:2,S", testMessage)

	s := openTestStore(t, root)
	ix := New(root, s, nil)
	if err := ix.Start(context.Background(), DefaultConfig()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, ix)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	ix2 := New(root, s, nil)
	cfg := DefaultConfig()
	cfg.Scan = false
	if err := ix2.Start(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	waitDone(t, ix2)

	prog := ix2.Progress()
	if prog.Removed != 1 {
		t.Fatalf("Removed = %d, want 1", prog.Removed)
	}
	count, _ := s.Count()
	if count != 0 {
		t.Fatalf("Count after cleanup = %d, want 0", count)
	}
}

func TestIndexerForceReparsesUnchangedFiles(t *testing.T) {
	root := t.TempDir()
	writeMaildirMessage(t, root, "INBOX", "cur", "1:2,S", testMessage)

	s := openTestStore(t, root)
	ix := New(root, s, nil)
	if err := ix.Start(context.Background(), DefaultConfig()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, ix)

	ix2 := New(root, s, nil)
	cfg := DefaultConfig()
	cfg.Force = true
	if err := ix2.Start(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	waitDone(t, ix2)

	if ix2.Progress().Updated != 1 {
		t.Fatalf("Updated = %d, want 1 with Force", ix2.Progress().Updated)
	}
}

func TestIndexerStopIsNonBlockingAndReachesDone(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 200; i++ {
		writeMaildirMessage(t, root, "INBOX", "cur", fmt.Sprintf("msg%d:2,", i), testMessage)
	}

	s := openTestStore(t, root)
	ix := New(root, s, nil)
	if err := ix.Start(context.Background(), DefaultConfig()); err != nil {
		t.Fatal(err)
	}

	ix.Stop()
	deadline := time.After(5 * time.Second)
	done := make(chan struct{})
	go func() {
		ix.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-deadline:
		t.Fatal("indexer did not reach Done after Stop")
	}
	if ix.State() != Done {
		t.Fatalf("state = %v, want Done", ix.State())
	}
}
