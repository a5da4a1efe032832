package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xeipuuv/gojsonschema"
)

// DefaultFileName is the registry file inside the data directory
const DefaultFileName = "active-sessions.json"

const entriesSchema = `{
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "required": ["sessionId", "pid"],
    "properties": {
      "sessionId": {"type": "string", "minLength": 1},
      "pid": {"type": "integer", "minimum": 0},
      "note": {"type": ["string", "null"]}
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(entriesSchema)

// FileRegistry stores the registry as one JSON object on disk
type FileRegistry struct {
	path   string
	logger *slog.Logger
}

// NewFileRegistry returns a registry backed by path. The file is created on
// first write.
func NewFileRegistry(path string, logger *slog.Logger) *FileRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileRegistry{path: path, logger: logger}
}

// Path returns the backing file location
func (r *FileRegistry) Path() string {
	return r.path
}

func (r *FileRegistry) Register(path, sessionID string, pid int) error {
	entries := r.load()
	entries[path] = Entry{SessionID: sessionID, PID: pid}
	return r.save(entries)
}

func (r *FileRegistry) Unregister(path string) error {
	entries := r.load()
	if _, ok := entries[path]; !ok {
		return nil
	}
	delete(entries, path)
	return r.save(entries)
}

func (r *FileRegistry) SetNote(path, text string) error {
	entries := r.load()
	entry, ok := entries[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoActiveSessionForPath, path)
	}
	entry.Note = &text
	entries[path] = entry
	return r.save(entries)
}

func (r *FileRegistry) GetNote(path string) (string, bool, error) {
	entry, ok := r.load()[path]
	if !ok || entry.Note == nil {
		return "", false, nil
	}
	return *entry.Note, true, nil
}

func (r *FileRegistry) Get(path string) (Entry, bool, error) {
	entry, ok := r.load()[path]
	return entry, ok, nil
}

func (r *FileRegistry) List() (map[string]Entry, error) {
	return r.load(), nil
}

// load never fails: a missing, unparseable or malformed file is an empty map
func (r *FileRegistry) load() map[string]Entry {
	entries := make(map[string]Entry)

	data, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("failed to read registry, treating as empty", "path", r.path, "error", err)
		}
		return entries
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		r.logger.Warn("registry is not valid JSON, treating as empty", "path", r.path, "error", err)
		return entries
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		r.logger.Warn("registry does not match schema, treating as empty", "path", r.path, "errors", problems)
		return entries
	}

	if err := json.Unmarshal(data, &entries); err != nil {
		r.logger.Warn("failed to decode registry, treating as empty", "path", r.path, "error", err)
		return make(map[string]Entry)
	}
	return entries
}

func (r *FileRegistry) save(entries map[string]Entry) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create registry temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write registry: %w", err)
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename registry: %w", err)
	}
	return nil
}
