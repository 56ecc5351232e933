// Package persist implements the agent's state file of spec.md §6: a
// single line-oriented, shell-quoted text file holding the engine-id,
// the engine-boots counter, and every non-volatile USM/VACM row. Parsing
// delegates to github.com/mattn/go-shellwords so values may contain
// spaces or quotes; unknown keys round-trip verbatim for forward
// compatibility with a newer agent version's state file.
package persist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
)

// Record is one line of the state file: a key followed by zero or more
// shell-quoted fields.
type Record struct {
	Key    string
	Fields []string
}

// Store holds the parsed state file in its original line order, so
// unknown keys written by a future agent version are preserved verbatim
// across a load/save cycle.
type Store struct {
	records []Record
	index   map[string]int // key -> position in records, last writer wins
}

// New returns an empty Store.
func New() *Store {
	return &Store{index: make(map[string]int)}
}

// Load reads a state file. A missing file is not an error: it returns an
// empty Store, matching a first-ever agent start with nothing persisted
// yet.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, err
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) (*Store, error) {
	s := New()
	parser := shellwords.NewParser()

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields, err := parser.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("persist: line %d: %w", lineNo, err)
		}
		if len(fields) == 0 {
			continue
		}
		s.index[fields[0]] = len(s.records)
		s.records = append(s.records, Record{Key: fields[0], Fields: fields[1:]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

// Set inserts or replaces the record for key, preserving its original
// line position on update.
func (s *Store) Set(key string, fields ...string) {
	if i, ok := s.index[key]; ok {
		s.records[i].Fields = fields
		return
	}
	s.index[key] = len(s.records)
	s.records = append(s.records, Record{Key: key, Fields: fields})
}

// Get returns the fields for key, if present.
func (s *Store) Get(key string) ([]string, bool) {
	i, ok := s.index[key]
	if !ok {
		return nil, false
	}
	return s.records[i].Fields, true
}

// GetString returns the first field for key, or def if key is absent.
func (s *Store) GetString(key, def string) string {
	fields, ok := s.Get(key)
	if !ok || len(fields) == 0 {
		return def
	}
	return fields[0]
}

// GetUint32 parses the first field for key as a uint32, or returns def.
func (s *Store) GetUint32(key string, def uint32) uint32 {
	fields, ok := s.Get(key)
	if !ok || len(fields) == 0 {
		return def
	}
	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return def
	}
	return uint32(n)
}

// Delete removes key, if present. The remaining records keep their
// relative order.
func (s *Store) Delete(key string) {
	i, ok := s.index[key]
	if !ok {
		return
	}
	s.records = append(s.records[:i], s.records[i+1:]...)
	delete(s.index, key)
	for k, pos := range s.index {
		if pos > i {
			s.index[k] = pos - 1
		}
	}
}

// Records returns every record in file order, for callers that need to
// enumerate repeated keys (e.g. one record per USM user row).
func (s *Store) Records() []Record { return s.records }

// Append adds a record without deduplicating against an existing key,
// used for tables that legitimately repeat a key once per row (a "user"
// record per USM user, an "access" record per VACM access row).
func (s *Store) Append(key string, fields ...string) {
	s.records = append(s.records, Record{Key: key, Fields: fields})
}

// Save writes the store to path, replacing its previous contents. Nothing
// in this module calls Save or Load: neither the agent engine nor
// cmd/priotd reads or writes a state file.
func Save(path string, s *Store) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, rec := range s.records {
		if _, err := w.WriteString(quote(rec.Key)); err != nil {
			f.Close()
			return err
		}
		for _, field := range rec.Fields {
			if _, err := w.WriteString(" " + quote(field)); err != nil {
				f.Close()
				return err
			}
		}
		if _, err := w.WriteString("\n"); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// quote shell-quotes a single field. go-shellwords only parses; writing
// is this package's own responsibility. Fields with no special
// characters are left bare to keep the file readable.
func quote(field string) string {
	if field != "" && !strings.ContainsAny(field, " \t\"'\\#\n") {
		return field
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range field {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}
