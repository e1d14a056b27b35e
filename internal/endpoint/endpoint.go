// Package endpoint holds the listen -> destination mapping table the relay
// routes accepted connections with.
package endpoint

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint is a host:port pair. Encrypted carries the https marker from the
// mapping definition; the relay treats it as opaque routing metadata.
type Endpoint struct {
	Host      string
	Port      int
	Encrypted bool
}

// Key identifies the endpoint for equality and lookup. Encrypted is not part
// of it.
func (e Endpoint) Key() string {
	return net.JoinHostPort(strings.ToLower(e.Host), strconv.Itoa(e.Port))
}

// Addr is the dialable / bindable form.
func (e Endpoint) Addr() string { return net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) }

// Equal compares host and port only.
func (e Endpoint) Equal(o Endpoint) bool { return e.Key() == o.Key() }

func (e Endpoint) Scheme() string {
	if e.Encrypted {
		return "https"
	}
	return "http"
}

func (e Endpoint) String() string { return e.Scheme() + "://" + e.Addr() }

// Entry is one listen -> destination pair.
type Entry struct {
	Listen Endpoint
	Dest   Endpoint
}

// Table is built once at startup and only read afterwards, so it carries no
// locking.
type Table struct {
	entries []Entry
	index   map[string]int
}

func NewTable() *Table {
	return &Table{index: make(map[string]int)}
}

// Insert adds a mapping. A listen endpoint may appear only once.
func (t *Table) Insert(listen, dest Endpoint) error {
	k := listen.Key()
	if _, ok := t.index[k]; ok {
		return fmt.Errorf("duplicate listen endpoint %s", k)
	}
	t.index[k] = len(t.entries)
	t.entries = append(t.entries, Entry{Listen: listen, Dest: dest})
	return nil
}

// Lookup returns the destination for listen.
func (t *Table) Lookup(listen Endpoint) (Endpoint, bool) {
	if t == nil {
		return Endpoint{}, false
	}
	i, ok := t.index[listen.Key()]
	if !ok {
		return Endpoint{}, false
	}
	return t.entries[i].Dest, true
}

// Merge inserts every entry of o, failing on the first duplicate.
func (t *Table) Merge(o *Table) error {
	for _, e := range o.Entries() {
		if err := t.Insert(e.Listen, e.Dest); err != nil {
			return err
		}
	}
	return nil
}

// Entries returns the mappings in definition order.
func (t *Table) Entries() []Entry {
	if t == nil {
		return nil
	}
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}
