// Package registry records which session and process currently own a
// project directory, plus an optional operator note.
//
// The file-backed registry is shared by independently launched worktrack
// processes. Every write replaces the whole file atomically, so a reader
// never sees a partial file. Read-modify-write is not isolated: two
// processes mutating the registry at the same moment can lose one update.
package registry

import (
	"errors"
	"sort"
)

// ErrNoActiveSessionForPath is returned when a note targets a project with no entry
var ErrNoActiveSessionForPath = errors.New("no active session for path")

// Entry is the registry value for one project path
type Entry struct {
	SessionID string  `json:"sessionId"`
	PID       int     `json:"pid"`
	Note      *string `json:"note"`
}

// Registry maps absolute project paths to their owning session
type Registry interface {
	Register(path, sessionID string, pid int) error
	Unregister(path string) error
	SetNote(path, text string) error
	GetNote(path string) (string, bool, error)
	Get(path string) (Entry, bool, error)
	List() (map[string]Entry, error)
}

// Paths returns the keys of entries in sorted order
func Paths(entries map[string]Entry) []string {
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
