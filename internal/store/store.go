// Package store implements gomu's persistent index: an sqlite-backed
// documents/terms/tokens/values database keyed by message path, plus a
// derived Contacts cache. The Maildir on disk remains the source of
// truth; everything this package persists is a rebuildable cache of it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	"github.com/indexd/gomu/internal/logging"
	"github.com/indexd/gomu/internal/registry"
)

// Mode selects how Open behaves toward an existing database.
type Mode int

const (
	// ReadOnly opens an existing store for queries only. A shared lock
	// is taken so the reader observes a consistent pre-commit snapshot.
	ReadOnly Mode = iota
	// ReadWrite opens an existing store, failing if its schema version
	// doesn't match. An exclusive lock is taken.
	ReadWrite
	// CreateOrOpen opens the store if it exists, creating it otherwise;
	// like ReadWrite it fails with ErrSchemaMismatch when an existing
	// store's schema version differs. An exclusive lock is taken.
	CreateOrOpen
	// Overwrite discards any existing database and contacts cache and
	// starts clean. An exclusive lock is taken.
	Overwrite
)

// Options configures Open.
type Options struct {
	DatabasePath string
	ContactsPath string
	LockPath     string
	BatchSize    int
	Mode         Mode

	// MaildirRoot and PersonalAddresses are stamped into metadata when
	// a store is created or overwritten.
	MaildirRoot       string
	PersonalAddresses []string

	// RedisClient, when non-nil, backs the contacts cache with a
	// best-effort read-through mirror. RedisPrefix defaults to "gomu"
	// when empty; RedisTTL of 0 means entries never expire.
	RedisClient *redis.Client
	RedisPrefix string
	RedisTTL    time.Duration

	Logger *logging.Logger
}

// Address is a display-name/e-mail pair, the store's own copy of the
// parser's address type so this package doesn't depend on the parser.
type Address struct {
	Name  string
	Email string
}

// Document is the record a caller asks the Store to persist. Field
// names mirror the registry's minimum field set.
type Document struct {
	Path       string
	RelMaildir string
	MTime      int64
	Size       int64

	MessageID string
	Subject   string
	From      Address
	To        []Address
	Cc        []Address
	Bcc       []Address

	Date     int64
	Priority int
	Flags    registry.Flags

	BodyText string

	References []string
	Tags       []string
}

// Store is a single opened index. A Store is safe for concurrent use by
// multiple goroutines within the one process that opened it; a second
// process opening the same database for writing fails with ErrLocked.
type Store struct {
	db       *sql.DB
	lock     *fileLock
	contacts *Contacts

	path      string
	batchSize int
	pending   int
	tx        *sql.Tx

	personal map[string]bool
}

// Open opens or creates the store described by opts.
func Open(opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Default().Store()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10000
	}

	dir := filepath.Dir(opts.DatabasePath)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, ErrNotADirectory
	}

	if opts.Mode == Overwrite {
		_ = os.Remove(opts.DatabasePath)
		_ = os.Remove(opts.DatabasePath + "-wal")
		_ = os.Remove(opts.DatabasePath + "-shm")
		_ = os.Remove(opts.ContactsPath)
	}

	exclusive := opts.Mode != ReadOnly
	lock, err := acquireLock(opts.LockPath, exclusive)
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", opts.DatabasePath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		lock.release()
		return nil, fmt.Errorf("%w: opening database: %v", ErrIOFailure, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		lock.release()
		return nil, fmt.Errorf("%w: pinging database: %v", ErrIOFailure, err)
	}

	ctx := context.Background()
	if opts.Mode != ReadOnly {
		if err := migrate(ctx, db); err != nil {
			db.Close()
			lock.release()
			return nil, err
		}
	}

	s := &Store{
		db:        db,
		lock:      lock,
		path:      opts.DatabasePath,
		batchSize: opts.BatchSize,
		personal:  make(map[string]bool, len(opts.PersonalAddresses)),
	}
	for _, a := range opts.PersonalAddresses {
		s.personal[strings.ToLower(strings.TrimSpace(a))] = true
	}

	if opts.Mode != ReadOnly {
		version, err := s.Metadata("db_version")
		if err == nil && version != "" && version != strconv.Itoa(SchemaVersion) {
			db.Close()
			lock.release()
			return nil, fmt.Errorf("%w: stored version %s, need %d", ErrSchemaMismatch, version, SchemaVersion)
		}
		if version == "" {
			if err := s.SetMetadata("db_version", strconv.Itoa(SchemaVersion)); err != nil {
				db.Close()
				lock.release()
				return nil, err
			}
			if err := s.SetMetadata("created_at", strconv.FormatInt(time.Now().Unix(), 10)); err != nil {
				db.Close()
				lock.release()
				return nil, err
			}
			if err := s.SetMetadata("maildir_root", opts.MaildirRoot); err != nil {
				db.Close()
				lock.release()
				return nil, err
			}
			if err := s.SetMetadata("personal_addresses", strings.Join(opts.PersonalAddresses, ",")); err != nil {
				db.Close()
				lock.release()
				return nil, err
			}
		}
	}

	redisPrefix := opts.RedisPrefix
	if redisPrefix == "" {
		redisPrefix = "gomu"
	}
	contacts := NewContacts(opts.ContactsPath, opts.RedisClient, redisPrefix, opts.RedisTTL, opts.Logger)
	if err := contacts.Load(); err != nil {
		db.Close()
		lock.release()
		return nil, err
	}
	s.contacts = contacts

	return s, nil
}

// Contacts returns the store's contacts cache.
func (s *Store) Contacts() *Contacts { return s.contacts }

// WithRedisMirror attaches a best-effort Redis read-through mirror to
// the store's already-loaded contacts cache, for callers that decide on
// a Redis client after Open rather than threading it through Options.
func (s *Store) WithRedisMirror(client *redis.Client, prefix string, ttl time.Duration) {
	s.contacts.SetRedisMirror(client, prefix, ttl)
}

// Close flushes any pending batch and releases the store's lock.
func (s *Store) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	err := s.db.Close()
	if lerr := s.lock.release(); err == nil {
		err = lerr
	}
	return err
}

// beginTx lazily starts the pending write transaction.
func (s *Store) beginTx() (*sql.Tx, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: beginning transaction: %v", ErrIOFailure, err)
	}
	s.tx = tx
	return tx, nil
}

// AddOrUpdate upserts a document: it replaces any existing terms,
// tokens, and values for the document's path, then writes the fresh
// set. Contacts are updated for every address in From/To/Cc/Bcc.
func (s *Store) AddOrUpdate(doc Document) error {
	tx, err := s.beginTx()
	if err != nil {
		return err
	}

	var id int64
	err = tx.QueryRow("SELECT id FROM documents WHERE path = ?", doc.Path).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.Exec("INSERT INTO documents(path, mtime, size) VALUES (?, ?, ?)", doc.Path, doc.MTime, doc.Size)
		if err != nil {
			return fmt.Errorf("%w: inserting document: %v", ErrIOFailure, err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w: reading new document id: %v", ErrIOFailure, err)
		}
	case err != nil:
		return fmt.Errorf("%w: looking up document: %v", ErrIOFailure, err)
	default:
		if _, err := tx.Exec("UPDATE documents SET mtime = ?, size = ? WHERE id = ?", doc.MTime, doc.Size, id); err != nil {
			return fmt.Errorf("%w: updating document: %v", ErrIOFailure, err)
		}
		if err := s.clearDocument(tx, id); err != nil {
			return err
		}
	}

	if err := s.writeIndexRows(tx, id, doc); err != nil {
		return err
	}

	s.updateContacts(doc)

	s.pending++
	if s.pending >= s.batchSize {
		return s.Flush()
	}
	return nil
}

func (s *Store) clearDocument(tx *sql.Tx, id int64) error {
	for _, table := range []string{"terms", "tokens", "values_"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE document_id = ?", id); err != nil {
			return fmt.Errorf("%w: clearing %s: %v", ErrIOFailure, table, err)
		}
	}
	return nil
}

func (s *Store) writeIndexRows(tx *sql.Tx, id int64, doc Document) error {
	addTerm := func(prefix, term string) error {
		if term == "" {
			return nil
		}
		_, err := tx.Exec("INSERT INTO terms(document_id, prefix, term) VALUES (?, ?, ?)", id, prefix, strings.ToLower(term))
		return err
	}
	addToken := func(fieldID registry.ID, text string) error {
		for _, tok := range tokenize(text) {
			if _, err := tx.Exec("INSERT INTO tokens(document_id, field_id, token) VALUES (?, ?, ?)", id, int(fieldID), tok); err != nil {
				return err
			}
		}
		return nil
	}
	setValue := func(fieldID registry.ID, text string, num int64) error {
		_, err := tx.Exec("INSERT INTO values_(document_id, field_id, text_value, num_value) VALUES (?, ?, ?, ?)",
			id, int(fieldID), text, num)
		return err
	}

	fromPrefix := registry.ByID(registry.From).Prefix
	toPrefix := registry.ByID(registry.To).Prefix
	ccPrefix := registry.ByID(registry.Cc).Prefix
	bccPrefix := registry.ByID(registry.Bcc).Prefix

	if err := addTerm(fromPrefix, doc.From.Email); err != nil {
		return wrapIO(err)
	}
	if err := addToken(registry.From, doc.From.Email+" "+doc.From.Name); err != nil {
		return wrapIO(err)
	}
	fromValue := doc.From.Email
	if doc.From.Name != "" {
		fromValue = doc.From.Name + " <" + doc.From.Email + ">"
	}
	if err := setValue(registry.From, fromValue, 0); err != nil {
		return wrapIO(err)
	}

	writeAddrList := func(fieldID registry.ID, prefix string, addrs []Address) error {
		var emails []string
		var tokenText strings.Builder
		for _, a := range addrs {
			if err := addTerm(prefix, a.Email); err != nil {
				return err
			}
			emails = append(emails, a.Email)
			tokenText.WriteString(a.Email)
			tokenText.WriteByte(' ')
			tokenText.WriteString(a.Name)
			tokenText.WriteByte(' ')
		}
		if err := addToken(fieldID, tokenText.String()); err != nil {
			return err
		}
		return setValue(fieldID, strings.Join(emails, ", "), 0)
	}
	if err := writeAddrList(registry.To, toPrefix, doc.To); err != nil {
		return wrapIO(err)
	}
	if err := writeAddrList(registry.Cc, ccPrefix, doc.Cc); err != nil {
		return wrapIO(err)
	}
	if err := writeAddrList(registry.Bcc, bccPrefix, doc.Bcc); err != nil {
		return wrapIO(err)
	}

	if err := addTerm(registry.ByID(registry.Subject).Prefix, doc.Subject); err != nil {
		return wrapIO(err)
	}
	if err := addToken(registry.Subject, doc.Subject); err != nil {
		return wrapIO(err)
	}
	if err := setValue(registry.Subject, doc.Subject, 0); err != nil {
		return wrapIO(err)
	}

	if err := addToken(registry.BodyText, doc.BodyText); err != nil {
		return wrapIO(err)
	}
	if err := setValue(registry.BodyText, doc.BodyText, 0); err != nil {
		return wrapIO(err)
	}

	if err := addTerm(registry.ByID(registry.Maildir).Prefix, doc.RelMaildir); err != nil {
		return wrapIO(err)
	}
	if err := setValue(registry.Maildir, doc.RelMaildir, 0); err != nil {
		return wrapIO(err)
	}

	if err := addTerm(registry.ByID(registry.Path).Prefix, doc.Path); err != nil {
		return wrapIO(err)
	}
	if err := setValue(registry.Path, doc.Path, 0); err != nil {
		return wrapIO(err)
	}

	if err := addTerm(registry.ByID(registry.MessageID).Prefix, doc.MessageID); err != nil {
		return wrapIO(err)
	}
	if err := setValue(registry.MessageID, doc.MessageID, 0); err != nil {
		return wrapIO(err)
	}

	refPrefix := registry.ByID(registry.References).Prefix
	for _, r := range doc.References {
		if err := addTerm(refPrefix, r); err != nil {
			return wrapIO(err)
		}
	}
	if err := setValue(registry.References, strings.Join(doc.References, ","), 0); err != nil {
		return wrapIO(err)
	}

	tagPrefix := registry.ByID(registry.Tags).Prefix
	for _, t := range doc.Tags {
		if err := addTerm(tagPrefix, t); err != nil {
			return wrapIO(err)
		}
	}
	if err := setValue(registry.Tags, strings.Join(doc.Tags, ","), 0); err != nil {
		return wrapIO(err)
	}

	dateStr := time.Unix(doc.Date, 0).UTC().Format("20060102")
	if err := addTerm(registry.ByID(registry.Date).Prefix, dateStr); err != nil {
		return wrapIO(err)
	}
	if err := setValue(registry.Date, dateStr, doc.Date); err != nil {
		return wrapIO(err)
	}

	if err := addTerm(registry.ByID(registry.Size).Prefix, strconv.FormatInt(doc.Size, 10)); err != nil {
		return wrapIO(err)
	}
	if err := setValue(registry.Size, strconv.FormatInt(doc.Size, 10), doc.Size); err != nil {
		return wrapIO(err)
	}

	prioStr := registry.PriorityString(doc.Priority)
	if err := addTerm(registry.ByID(registry.Priority).Prefix, prioStr); err != nil {
		return wrapIO(err)
	}
	if err := setValue(registry.Priority, prioStr, int64(doc.Priority)); err != nil {
		return wrapIO(err)
	}

	flagPrefix := registry.ByID(registry.FlagsField).Prefix
	flagStr := doc.Flags.String()
	for i := 0; i < len(flagStr); i++ {
		if err := addTerm(flagPrefix, string(flagStr[i])); err != nil {
			return wrapIO(err)
		}
	}
	if err := setValue(registry.FlagsField, flagStr, int64(doc.Flags)); err != nil {
		return wrapIO(err)
	}

	return nil
}

func wrapIO(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrIOFailure, err)
}

// updateContacts folds every address named in the message into the
// contacts cache exactly once each, regardless of how many of
// From/To/Cc/Bcc name it: frequency counts indexed messages that
// mention an address, not the number of headers it appears in.
func (s *Store) updateContacts(doc Document) {
	seen := make(map[string]bool)
	update := func(a Address) {
		if a.Email == "" {
			return
		}
		key := strings.ToLower(a.Email)
		if seen[key] {
			return
		}
		seen[key] = true
		personal := s.personal[key]
		full := a.Email
		if a.Name != "" {
			full = a.Name + " <" + a.Email + ">"
		}
		s.contacts.Update(a.Email, a.Name, doc.Date, personal, full)
	}
	update(doc.From)
	for _, a := range doc.To {
		update(a)
	}
	for _, a := range doc.Cc {
		update(a)
	}
	for _, a := range doc.Bcc {
		update(a)
	}
}

// Contains reports whether path is currently indexed.
func (s *Store) Contains(path string) (bool, error) {
	var n int
	err := s.queryRow("SELECT COUNT(*) FROM documents WHERE path = ?", path).Scan(&n)
	if err != nil {
		return false, wrapIO(err)
	}
	return n > 0, nil
}

// Mtime returns the mtime stored for path, and whether it was found.
func (s *Store) Mtime(path string) (int64, bool, error) {
	var mtime int64
	err := s.queryRow("SELECT mtime FROM documents WHERE path = ?", path).Scan(&mtime)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapIO(err)
	}
	return mtime, true, nil
}

// queryRow runs against the pending transaction when one is open so
// callers observe their own uncommitted writes, falling back to the
// database handle otherwise.
func (s *Store) queryRow(query string, args ...interface{}) *sql.Row {
	if s.tx != nil {
		return s.tx.QueryRow(query, args...)
	}
	return s.db.QueryRow(query, args...)
}

func (s *Store) query(query string, args ...interface{}) (*sql.Rows, error) {
	if s.tx != nil {
		return s.tx.Query(query, args...)
	}
	return s.db.Query(query, args...)
}

// Remove deletes the document at path, if present. The contacts cache
// is untouched: it is purely derived and may be rebuilt by a full
// re-index.
func (s *Store) Remove(path string) error {
	tx, err := s.beginTx()
	if err != nil {
		return err
	}
	res, err := tx.Exec("DELETE FROM documents WHERE path = ?", path)
	if err != nil {
		return wrapIO(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil
	}
	s.pending++
	if s.pending >= s.batchSize {
		return s.Flush()
	}
	return nil
}

// Flush commits the pending batch, if any, and persists the contacts
// cache.
func (s *Store) Flush() error {
	if s.tx != nil {
		if err := s.tx.Commit(); err != nil {
			s.tx = nil
			return fmt.Errorf("%w: committing batch: %v", ErrIOFailure, err)
		}
		s.tx = nil
		s.pending = 0
	}
	if s.contacts != nil {
		return s.contacts.Flush()
	}
	return nil
}

// Count returns the number of indexed documents.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.queryRow("SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, wrapIO(err)
	}
	return n, nil
}

// SizeOnDisk returns the combined size of the database file and its
// WAL/shm siblings.
func (s *Store) SizeOnDisk() (int64, error) {
	var total int64
	for _, suffix := range []string{"", "-wal", "-shm"} {
		info, err := os.Stat(s.path + suffix)
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// ForEachPath enumerates every indexed path, used by the indexer's
// cleanup pass.
func (s *Store) ForEachPath(fn func(path string) error) error {
	rows, err := s.query("SELECT path FROM documents")
	if err != nil {
		return wrapIO(err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return wrapIO(err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return wrapIO(err)
	}

	for _, p := range paths {
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

// Metadata reads a single key-value pair. Absence is reported as an
// empty string with a nil error, matching "value | absent" semantics
// for the common case of querying an optional key.
func (s *Store) Metadata(key string) (string, error) {
	var v string
	err := s.queryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", wrapIO(err)
	}
	return v, nil
}

// SetMetadata writes key unconditionally, outside the pending batch:
// metadata changes are rare and should be durable immediately.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO metadata(key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	return wrapIO(err)
}

// tokenize lowercases s and splits it into runs of letters and digits,
// the free-text unit the tokens table indexes.
func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return tokens
}
