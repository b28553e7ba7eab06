package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/indexd/gomu/internal/registry"
)

// MatchExactTerm returns the ids of documents whose fieldID term equals
// value exactly (case-insensitively, matching how terms are written).
func (s *Store) MatchExactTerm(fieldID registry.ID, value string) ([]int64, error) {
	prefix := registry.ByID(fieldID).Prefix
	rows, err := s.query("SELECT document_id FROM terms WHERE prefix = ? AND term = ?", prefix, strings.ToLower(value))
	if err != nil {
		return nil, wrapIO(err)
	}
	return scanIDs(rows)
}

// MatchPrefixTerm returns the ids of documents whose fieldID term begins
// with prefix, for wildcard ("word*") field queries.
func (s *Store) MatchPrefixTerm(fieldID registry.ID, valuePrefix string) ([]int64, error) {
	prefix := registry.ByID(fieldID).Prefix
	like := escapeLike(strings.ToLower(valuePrefix)) + "%"
	rows, err := s.query("SELECT document_id FROM terms WHERE prefix = ? AND term LIKE ? ESCAPE '\\'", prefix, like)
	if err != nil {
		return nil, wrapIO(err)
	}
	return scanIDs(rows)
}

// MatchToken returns the ids of documents with word among the free-text
// tokens of any of fieldIDs.
func (s *Store) MatchToken(fieldIDs []registry.ID, word string) ([]int64, error) {
	q, args := fieldInClause("SELECT DISTINCT document_id FROM tokens WHERE token = ? AND field_id IN (", fieldIDs)
	args = append([]interface{}{strings.ToLower(word)}, args...)
	rows, err := s.query(q+")", args...)
	if err != nil {
		return nil, wrapIO(err)
	}
	return scanIDs(rows)
}

// MatchTokenPrefix is MatchToken's wildcard counterpart, for bare
// ("word*") free-text queries.
func (s *Store) MatchTokenPrefix(fieldIDs []registry.ID, wordPrefix string) ([]int64, error) {
	q, args := fieldInClause("SELECT DISTINCT document_id FROM tokens WHERE token LIKE ? ESCAPE '\\' AND field_id IN (", fieldIDs)
	like := escapeLike(strings.ToLower(wordPrefix)) + "%"
	args = append([]interface{}{like}, args...)
	rows, err := s.query(q+")", args...)
	if err != nil {
		return nil, wrapIO(err)
	}
	return scanIDs(rows)
}

// MatchNumRange returns the ids of documents whose fieldID numeric value
// falls within [low, high] inclusive.
func (s *Store) MatchNumRange(fieldID registry.ID, low, high int64) ([]int64, error) {
	rows, err := s.query("SELECT document_id FROM values_ WHERE field_id = ? AND num_value BETWEEN ? AND ?",
		int(fieldID), low, high)
	if err != nil {
		return nil, wrapIO(err)
	}
	return scanIDs(rows)
}

// AllDocumentIDs returns every document id, for the empty-expression
// match-all case.
func (s *Store) AllDocumentIDs() ([]int64, error) {
	rows, err := s.query("SELECT id FROM documents")
	if err != nil {
		return nil, wrapIO(err)
	}
	return scanIDs(rows)
}

// TextValue returns the stored text value of fieldID for docID.
func (s *Store) TextValue(docID int64, fieldID registry.ID) (string, bool, error) {
	var v string
	err := s.queryRow("SELECT text_value FROM values_ WHERE document_id = ? AND field_id = ?", docID, int(fieldID)).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapIO(err)
	}
	return v, true, nil
}

// NumValue returns the stored numeric value of fieldID for docID.
func (s *Store) NumValue(docID int64, fieldID registry.ID) (int64, bool, error) {
	var v int64
	err := s.queryRow("SELECT num_value FROM values_ WHERE document_id = ? AND field_id = ?", docID, int(fieldID)).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapIO(err)
	}
	return v, true, nil
}

// PathOf returns the absolute path backing docID.
func (s *Store) PathOf(docID int64) (string, error) {
	var p string
	err := s.queryRow("SELECT path FROM documents WHERE id = ?", docID).Scan(&p)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: document id %d", ErrNotFound, docID)
	}
	if err != nil {
		return "", wrapIO(err)
	}
	return p, nil
}

// DefaultSearchFieldIDs returns the field ids scanned by a bare
// (non field-prefixed) query term.
func DefaultSearchFieldIDs() []registry.ID {
	var ids []registry.ID
	for _, f := range registry.All() {
		if f.DefaultSearch {
			ids = append(ids, f.ID)
		}
	}
	return ids
}

// SortKeysForDocs returns, for each of ids in order, the value of
// sortField usable as a sort key: num_value when present, else the
// lowercased text_value, else "" / 0.
func (s *Store) SortKeysForDocs(ids []int64, sortField registry.ID) (map[int64]string, map[int64]int64, error) {
	textKeys := make(map[int64]string, len(ids))
	numKeys := make(map[int64]int64, len(ids))
	for _, id := range ids {
		if n, ok, err := s.NumValue(id, sortField); err != nil {
			return nil, nil, err
		} else if ok {
			numKeys[id] = n
		}
		if t, ok, err := s.TextValue(id, sortField); err != nil {
			return nil, nil, err
		} else if ok {
			textKeys[id] = strings.ToLower(t)
		}
	}
	return textKeys, numKeys, nil
}

func fieldInClause(prefix string, fieldIDs []registry.ID) (string, []interface{}) {
	placeholders := make([]string, len(fieldIDs))
	args := make([]interface{}, len(fieldIDs))
	for i, id := range fieldIDs {
		placeholders[i] = "?"
		args[i] = int(id)
	}
	return prefix + strings.Join(placeholders, ","), args
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapIO(err)
		}
		ids = append(ids, id)
	}
	return ids, wrapIO(rows.Err())
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}
