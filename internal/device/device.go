// Package device defines the tag-server side of the bridge: a client that can
// list, read and write named tags, and the quality attached to each reading.
//
// Concrete protocol adapters live in sub-packages (see device/opcua). The
// bridge runtime depends only on the interfaces declared here.
package device

import (
	"context"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Quality is the trust level the server attaches to a reading.
type Quality int

const (
	QualityGood Quality = iota
	QualityUncertain
	QualityBad
)

// String returns the quality label used in the reported document.
func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "Good"
	case QualityUncertain:
		return "Uncertain"
	default:
		return "Bad"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (q *Quality) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Good":
		*q = QualityGood
	case "Uncertain":
		*q = QualityUncertain
	case "Bad":
		*q = QualityBad
	default:
		return fmt.Errorf("unknown quality %q", b)
	}
	return nil
}

// Reading is one tag value as returned by a batch read.
type Reading struct {
	Name    string
	Value   any
	Quality Quality
}

// Write is a single tag write request.
type Write struct {
	Name  string
	Value any
}

// WriteResult reports the outcome of one Write. Err is nil when the server
// accepted the value.
type WriteResult struct {
	Name string
	Err  error
}

// Client is a session with a tag server.
//
// A Client is used by one goroutine at a time. Connect must succeed before
// List, Read or Write are called; Disconnect is safe to call more than once.
type Client interface {
	Connect(ctx context.Context, endpoint string) error
	// List returns the tag names matching pattern. With flat set, names are
	// fully qualified leaf tags from the whole hierarchy; otherwise only the
	// first level below the browse root is considered.
	List(ctx context.Context, pattern string, flat bool) ([]string, error)
	// Read returns one Reading per name, in the same order.
	Read(ctx context.Context, names []string) ([]Reading, error)
	// Write returns one WriteResult per write, in the same order. A non-nil
	// error means the request as a whole failed.
	Write(ctx context.Context, writes []Write) ([]WriteResult, error)
	Disconnect(ctx context.Context) error
}

// Dialer creates a fresh, unconnected Client.
type Dialer func() (Client, error)

// Separator joins path segments into a fully qualified tag name.
const Separator = '.'

// CompilePattern compiles a tag pattern. "*" matches within one path segment,
// "**" across segments; "?", "[...]" and "{a,b}" follow glob syntax.
func CompilePattern(pattern string) (glob.Glob, error) {
	g, err := glob.Compile(pattern, Separator)
	if err != nil {
		return nil, fmt.Errorf("invalid tag pattern %q: %w", pattern, err)
	}
	return g, nil
}

// LiteralPrefix returns the part of pattern before its first glob
// metacharacter. Any matching name starts with it.
func LiteralPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, `*?[{\`); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

// MayContain reports whether tags below the branch at path could match a
// pattern with the given literal prefix.
func MayContain(path, prefix string) bool {
	return strings.HasPrefix(path, prefix) || strings.HasPrefix(prefix, path+string(Separator))
}
