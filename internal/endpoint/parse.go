package endpoint

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// MalformedMappingError reports the first line of a mapping definition that
// could not be parsed. Line is 1-based; 0 means the value did not come from a
// multi-line source.
type MalformedMappingError struct {
	Line   int
	Text   string
	Reason string
}

func (e *MalformedMappingError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("malformed mapping %q: %s", e.Text, e.Reason)
	}
	return fmt.Sprintf("malformed mapping at line %d %q: %s", e.Line, e.Text, e.Reason)
}

// ParseEndpoint parses scheme://host:port where scheme is http or https.
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	u, err := url.Parse(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid url: %w", err)
	}
	var ep Endpoint
	switch strings.ToLower(u.Scheme) {
	case "http":
	case "https":
		ep.Encrypted = true
	case "":
		return Endpoint{}, fmt.Errorf("missing scheme")
	default:
		return Endpoint{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	ep.Host = u.Hostname()
	if ep.Host == "" {
		return Endpoint{}, fmt.Errorf("empty host")
	}
	ps := u.Port()
	if ps == "" {
		return Endpoint{}, fmt.Errorf("missing port")
	}
	port, err := strconv.Atoi(ps)
	if err != nil || port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("invalid port %q", ps)
	}
	ep.Port = port
	return ep, nil
}

// ParseLine parses one listen=destination mapping.
func ParseLine(line string) (Entry, error) {
	src, dst, ok := strings.Cut(line, "=")
	if !ok {
		return Entry{}, fmt.Errorf("missing '='")
	}
	listen, err := ParseEndpoint(src)
	if err != nil {
		return Entry{}, fmt.Errorf("listen: %w", err)
	}
	dest, err := ParseEndpoint(dst)
	if err != nil {
		return Entry{}, fmt.Errorf("destination: %w", err)
	}
	return Entry{Listen: listen, Dest: dest}, nil
}

func skipLine(line string) bool {
	return line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//")
}

// Parse reads a mapping definition, one mapping per line. Blank lines and
// lines starting with # or // are ignored. On error no table is returned.
func Parse(r io.Reader) (*Table, error) {
	t := NewTable()
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		raw := sc.Text()
		line := strings.TrimSpace(raw)
		if skipLine(line) {
			continue
		}
		e, err := ParseLine(line)
		if err != nil {
			return nil, &MalformedMappingError{Line: n, Text: raw, Reason: err.Error()}
		}
		if err := t.Insert(e.Listen, e.Dest); err != nil {
			return nil, &MalformedMappingError{Line: n, Text: raw, Reason: err.Error()}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read mapping: %w", err)
	}
	return t, nil
}

// LoadFile parses the mapping file at path.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mapping file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// FromPair builds a single-entry table. Values without a scheme are taken as
// plain http endpoints.
func FromPair(listen, dest string) (*Table, error) {
	le, err := ParseEndpoint(withScheme(listen))
	if err != nil {
		return nil, &MalformedMappingError{Text: listen, Reason: "listen: " + err.Error()}
	}
	de, err := ParseEndpoint(withScheme(dest))
	if err != nil {
		return nil, &MalformedMappingError{Text: dest, Reason: "destination: " + err.Error()}
	}
	t := NewTable()
	_ = t.Insert(le, de)
	return t, nil
}

func withScheme(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		return s
	}
	return "http://" + s
}
