// Package registry defines the fixed set of indexable message fields.
//
// The table is immutable once the package initializes: every other
// package (parser, store, query) looks fields up by ID, name, or
// shortcut instead of hard-coding field metadata.
package registry

// Kind describes the storage/comparison semantics of a field's values.
type Kind int

const (
	KindText Kind = iota
	KindInteger
	KindTimestamp
	KindByteSize
	KindAddress
	KindStringList
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	case KindTimestamp:
		return "timestamp"
	case KindByteSize:
		return "byte-size"
	case KindAddress:
		return "address"
	case KindStringList:
		return "string-list"
	default:
		return "unknown"
	}
}

// ID is a dense, stable identifier for a field.
type ID int

const (
	From ID = iota
	To
	Cc
	Bcc
	Subject
	BodyText
	Maildir
	Path
	MessageID
	References
	Tags
	Date
	Size
	Priority
	FlagsField
	numFields
)

// Field describes one indexable unit of message data.
type Field struct {
	ID       ID
	Name     string
	Shortcut byte
	Kind     Kind
	// Prefix namespaces this field's terms in the store's term table.
	// Empty for fields that are not stored as exact-match terms.
	Prefix string

	IndexedAsText bool // participates in free-text search
	StoredAsTerm  bool // exact-match / prefix lookup
	StoredAsValue bool // retrievable, sortable, rangeable

	// DefaultSearch marks fields scanned by bare (non field-prefixed)
	// query terms. Mirrors the original mu-msg-fields.c notion of which
	// fields belong to the default free-text set.
	DefaultSearch bool
}

var fields = [numFields]Field{
	From: {ID: From, Name: "from", Shortcut: 'f', Kind: KindAddress, Prefix: "F",
		IndexedAsText: true, StoredAsTerm: true, StoredAsValue: true, DefaultSearch: true},
	To: {ID: To, Name: "to", Shortcut: 't', Kind: KindAddress, Prefix: "T",
		IndexedAsText: true, StoredAsTerm: true, StoredAsValue: true, DefaultSearch: true},
	Cc: {ID: Cc, Name: "cc", Shortcut: 'c', Kind: KindAddress, Prefix: "C",
		IndexedAsText: true, StoredAsTerm: true, StoredAsValue: true},
	Bcc: {ID: Bcc, Name: "bcc", Shortcut: 'h', Kind: KindAddress, Prefix: "H",
		IndexedAsText: true, StoredAsTerm: true, StoredAsValue: true},
	Subject: {ID: Subject, Name: "subject", Shortcut: 's', Kind: KindText, Prefix: "S",
		IndexedAsText: true, StoredAsTerm: true, StoredAsValue: true, DefaultSearch: true},
	BodyText: {ID: BodyText, Name: "body", Shortcut: 'b', Kind: KindText, Prefix: "B",
		IndexedAsText: true, StoredAsValue: true, DefaultSearch: true},
	Maildir: {ID: Maildir, Name: "maildir", Shortcut: 'm', Kind: KindText, Prefix: "M",
		StoredAsTerm: true, StoredAsValue: true},
	Path: {ID: Path, Name: "path", Shortcut: 'p', Kind: KindText, Prefix: "P",
		StoredAsTerm: true, StoredAsValue: true},
	MessageID: {ID: MessageID, Name: "msgid", Shortcut: 'i', Kind: KindText, Prefix: "I",
		StoredAsTerm: true, StoredAsValue: true},
	References: {ID: References, Name: "refs", Shortcut: 'r', Kind: KindStringList, Prefix: "R",
		StoredAsTerm: true, StoredAsValue: true},
	Tags: {ID: Tags, Name: "tag", Shortcut: 'x', Kind: KindStringList, Prefix: "X",
		StoredAsTerm: true, StoredAsValue: true},
	Date: {ID: Date, Name: "date", Shortcut: 'd', Kind: KindTimestamp, Prefix: "D",
		StoredAsTerm: true, StoredAsValue: true},
	Size: {ID: Size, Name: "size", Shortcut: 'z', Kind: KindByteSize, Prefix: "Z",
		StoredAsTerm: true, StoredAsValue: true},
	Priority: {ID: Priority, Name: "prio", Shortcut: 'j', Kind: KindText, Prefix: "J",
		StoredAsTerm: true, StoredAsValue: true},
	FlagsField: {ID: FlagsField, Name: "flag", Shortcut: 'g', Kind: KindText, Prefix: "G",
		StoredAsTerm: true, StoredAsValue: true},
}

var (
	byName     map[string]*Field
	byShortcut map[byte]*Field
)

func init() {
	byName = make(map[string]*Field, len(fields))
	byShortcut = make(map[byte]*Field, len(fields))
	for i := range fields {
		f := &fields[i]
		byName[f.Name] = f
		byShortcut[f.Shortcut] = f
	}
}

// ByID returns the field with the given ID. Panics if id is out of range,
// since IDs are only ever produced by this package.
func ByID(id ID) Field {
	return fields[id]
}

// ByName looks up a field by its full name (e.g. "subject").
func ByName(name string) (Field, bool) {
	f, ok := byName[name]
	if !ok {
		return Field{}, false
	}
	return *f, true
}

// ByShortcut looks up a field by its single-character shortcut (e.g. 's').
func ByShortcut(c byte) (Field, bool) {
	f, ok := byShortcut[c]
	if !ok {
		return Field{}, false
	}
	return *f, true
}

// All returns every registered field, in ID order.
func All() []Field {
	out := make([]Field, len(fields))
	copy(out, fields[:])
	return out
}

// PriorityString renders a priority level the way query results and CLI
// output display it.
func PriorityString(p int) string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// Priority levels, ordered low to high for numeric comparisons/sorting.
const (
	PriorityLow = iota
	PriorityNormal
	PriorityHigh
)
