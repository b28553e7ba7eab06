package store

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/indexd/gomu/internal/logging"
)

// contactsFormatVersion is the integer stamped on the header line of the
// serialized contacts blob.
const contactsFormatVersion = 1

// Contact is a derived, per-address fact sheet built from every message
// that named the address in From/To/Cc/Bcc. Contacts are never the
// system of record for anything the Store itself answers about a
// document; losing the cache only costs a rebuild.
type Contact struct {
	Email       string // lowercased, the cache key
	DisplayName string // most recently seen display name
	LastSeen    int64  // max message date seen, epoch seconds
	Frequency   int64
	Personal    bool
	FullAddress string // "Name <email>" display form
}

// Contacts is the in-memory contacts cache, serializable as a single
// tab-separated blob alongside the index. An optional Redis mirror
// makes lookups from other processes cheap; it is strictly a
// read-through cache and is never consulted to decide whether a Find
// succeeds when it is unavailable or disabled.
type Contacts struct {
	mu     sync.RWMutex
	byMail map[string]*Contact

	path string

	redis  *redis.Client
	prefix string
	ttl    time.Duration
	log    *logging.Logger
}

// NewContacts constructs an empty cache backed by path. cache may be nil
// to disable the Redis mirror entirely.
func NewContacts(path string, cache *redis.Client, prefix string, ttl time.Duration, log *logging.Logger) *Contacts {
	if log == nil {
		log = logging.Default()
	}
	return &Contacts{
		byMail: make(map[string]*Contact),
		path:   path,
		redis:  cache,
		prefix: prefix,
		ttl:    ttl,
		log:    log,
	}
}

// Load populates the cache from its blob file. A missing file is not an
// error: it leaves the cache empty, as it would be for a brand-new
// Store.
func (c *Contacts) Load() error {
	f, err := os.Open(c.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: opening contacts cache: %v", ErrIOFailure, err)
	}
	defer f.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		if first {
			first = false
			continue // header line: format version, not a record
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 6 {
			continue
		}
		lastSeen, _ := strconv.ParseInt(fields[2], 10, 64)
		freq, _ := strconv.ParseInt(fields[3], 10, 64)
		personal := fields[4] == "1"
		c.byMail[fields[0]] = &Contact{
			Email:       fields[0],
			DisplayName: fields[1],
			LastSeen:    lastSeen,
			Frequency:   freq,
			Personal:    personal,
			FullAddress: fields[5],
		}
	}
	return scanner.Err()
}

// Update folds one address occurrence into the cache: frequency is
// incremented unconditionally, last_seen becomes the max of what was
// stored and seenAt, and the display name/full address are replaced
// whenever this occurrence is at least as recent as what's stored.
func (c *Contacts) Update(email, displayName string, seenAt int64, personal bool, fullAddress string) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return
	}

	c.mu.Lock()
	entry, ok := c.byMail[email]
	if !ok {
		entry = &Contact{Email: email}
		c.byMail[email] = entry
	}
	entry.Frequency++
	if seenAt >= entry.LastSeen {
		entry.LastSeen = seenAt
		entry.DisplayName = displayName
		entry.FullAddress = fullAddress
	}
	if personal {
		entry.Personal = true
	}
	snapshot := *entry
	c.mu.Unlock()

	c.mirrorWrite(snapshot)
}

// Find looks up a contact by e-mail, consulting the Redis mirror first
// when one is configured and falling back to the in-memory cache.
func (c *Contacts) Find(email string) (Contact, bool) {
	email = strings.ToLower(strings.TrimSpace(email))

	if c.redis != nil {
		if entry, ok := c.mirrorRead(email); ok {
			return entry, true
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.byMail[email]
	if !ok {
		return Contact{}, false
	}
	return *entry, true
}

// ForEach visits every contact. When descendingFrequency is true,
// contacts are visited most-frequent first, ties broken by last_seen
// descending and then email ascending.
func (c *Contacts) ForEach(descendingFrequency bool, fn func(Contact) error) error {
	c.mu.RLock()
	entries := make([]Contact, 0, len(c.byMail))
	for _, e := range c.byMail {
		entries = append(entries, *e)
	}
	c.mu.RUnlock()

	if descendingFrequency {
		sort.Slice(entries, func(i, j int) bool {
			a, b := entries[i], entries[j]
			if a.Frequency != b.Frequency {
				return a.Frequency > b.Frequency
			}
			if a.LastSeen != b.LastSeen {
				return a.LastSeen > b.LastSeen
			}
			return a.Email < b.Email
		})
	}

	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Flush atomically persists the cache: write to a temp file in the same
// directory, then rename over the real path.
func (c *Contacts) Flush() error {
	c.mu.RLock()
	entries := make([]Contact, 0, len(c.byMail))
	for _, e := range c.byMail {
		entries = append(entries, *e)
	}
	c.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Email < entries[j].Email })

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".contacts-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp contacts file: %v", ErrIOFailure, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	w := bufio.NewWriter(tmp)
	fmt.Fprintf(w, "# gomu contacts cache\n%d\n", contactsFormatVersion)
	for _, e := range entries {
		personal := "0"
		if e.Personal {
			personal = "1"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			e.Email, e.DisplayName, e.LastSeen, e.Frequency, personal, e.FullAddress)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing contacts cache: %v", ErrIOFailure, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing contacts cache: %v", ErrIOFailure, err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("%w: renaming contacts cache: %v", ErrIOFailure, err)
	}
	return nil
}

// mirrorWrite best-effort mirrors a single contact into Redis. Failures
// are logged and swallowed: the blob file remains authoritative.
func (c *Contacts) mirrorWrite(entry Contact) {
	if c.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := c.redisKey(entry.Email)
	err := c.redis.HSet(ctx, key, map[string]interface{}{
		"display_name": entry.DisplayName,
		"last_seen":    entry.LastSeen,
		"frequency":    entry.Frequency,
		"personal":     entry.Personal,
		"full_address": entry.FullAddress,
	}).Err()
	if err != nil {
		c.log.Debug("contacts: redis mirror write failed", "email", entry.Email, "error", err)
		return
	}
	if c.ttl > 0 {
		c.redis.Expire(ctx, key, c.ttl)
	}
}

func (c *Contacts) mirrorRead(email string) (Contact, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := c.redis.HGetAll(ctx, c.redisKey(email)).Result()
	if err != nil || len(res) == 0 {
		return Contact{}, false
	}
	lastSeen, _ := strconv.ParseInt(res["last_seen"], 10, 64)
	freq, _ := strconv.ParseInt(res["frequency"], 10, 64)
	return Contact{
		Email:       email,
		DisplayName: res["display_name"],
		LastSeen:    lastSeen,
		Frequency:   freq,
		Personal:    res["personal"] == "true" || res["personal"] == "1",
		FullAddress: res["full_address"],
	}, true
}

// SetRedisMirror attaches or replaces the Redis mirror on an already
// constructed cache. Passing a nil client disables the mirror again.
func (c *Contacts) SetRedisMirror(client *redis.Client, prefix string, ttl time.Duration) {
	c.redis = client
	c.prefix = prefix
	c.ttl = ttl
}

func (c *Contacts) redisKey(email string) string {
	return c.prefix + ":contact:" + email
}
