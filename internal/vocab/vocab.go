// Package vocab maps token IDs to their text.
//
// A vocabulary is a UTF-8 file with one token per line; the line index
// is the token's position in the visible range. Token ID i renders
// line i-Reserved, where Reserved counts the special IDs preceding the
// visible range. Exports whose vocabulary file carries the special
// rows inline as its first lines use Reserved=0; the special IDs are
// skipped during decoding either way, so both layouts render the same
// text.
package vocab

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

type Config struct {
	// Reserved is the count of special token IDs preceding the
	// visible range.
	Reserved int

	// Specials are token IDs that never render as text. Defaults to
	// {0, 1, 2, 3} (pad, unknown, begin, end) when nil.
	Specials []int64
}

func DefaultConfig() Config {
	return Config{Specials: []int64{0, 1, 2, 3}}
}

// Table is an immutable ID-to-text mapping. It is safe for concurrent
// readers after construction.
type Table struct {
	entries  []string
	reserved int
	specials map[int64]struct{}
}

func New(entries []string, cfg Config) *Table {
	specials := cfg.Specials
	if specials == nil {
		specials = DefaultConfig().Specials
	}
	set := make(map[int64]struct{}, len(specials))
	for _, id := range specials {
		set[id] = struct{}{}
	}
	reserved := cfg.Reserved
	if reserved < 0 {
		reserved = 0
	}
	return &Table{entries: entries, reserved: reserved, specials: set}
}

// Load reads a vocabulary file from disk.
func Load(path string, cfg Config) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	t, err := Parse(f, cfg)
	if err != nil {
		return nil, fmt.Errorf("vocab: %s: %w", path, err)
	}
	return t, nil
}

// Parse reads one token per line. Interior blank lines are entries,
// a trailing newline is not. An empty input yields an empty, usable
// table.
func Parse(r io.Reader, cfg Config) (*Table, error) {
	var entries []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		entries = append(entries, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return New(entries, cfg), nil
}

// Len is the number of vocabulary entries.
func (t *Table) Len() int { return len(t.entries) }

// Reserved is the count of special IDs preceding the visible range.
func (t *Table) Reserved() int { return t.reserved }

// Width is the expected logits width: reserved IDs plus one per entry.
func (t *Table) Width() int { return t.reserved + len(t.entries) }

func (t *Table) IsSpecial(id int64) bool {
	_, ok := t.specials[id]
	return ok
}

// Token returns the rendering of id, or ok=false when the ID is
// special or outside the visible range.
func (t *Table) Token(id int64) (string, bool) {
	if t.IsSpecial(id) {
		return "", false
	}
	idx := id - int64(t.reserved)
	if idx < 0 || idx >= int64(len(t.entries)) {
		return "", false
	}
	return t.entries[idx], true
}

// Decode renders a token sequence as text: special IDs are skipped,
// out-of-range IDs render as a placeholder carrying the literal
// numeric ID, everything else concatenates in order with no
// separators. Decode never fails.
func (t *Table) Decode(ids []int64) string {
	var b strings.Builder
	for _, id := range ids {
		if t.IsSpecial(id) {
			continue
		}
		if s, ok := t.Token(id); ok {
			b.WriteString(s)
			continue
		}
		fmt.Fprintf(&b, "<UNK%d>", id)
	}
	return b.String()
}
