package analytics

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/smartbiopk/cliamapp/internal/tariff"
)

// eventSchemaFormat validates events read back from disk. The total minimum
// is the fixed cost every claim starts from. Lines that fail validation are
// treated as corrupt and skipped.
const eventSchemaFormat = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["id", "categories", "total", "recordedAt"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"categories": {"type": "array", "items": {"type": "string"}},
		"total": {"type": "integer", "minimum": %d},
		"recordedAt": {"type": "string", "format": "date-time"}
	},
	"additionalProperties": false
}`

// FileSink appends events to a JSON-lines file, one event per line.
type FileSink struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	schema *jsonschema.Schema
}

// NewFileSink opens (creating if needed) the events file for appending.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create events dir: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open events file: %w", err)
	}

	schema, err := compileEventSchema()
	if err != nil {
		file.Close()
		return nil, err
	}

	return &FileSink{file: file, path: path, schema: schema}, nil
}

// Record appends the event as one JSON line.
func (s *FileSink) Record(_ context.Context, event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return ErrSinkClosed
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// List reads the file back, validating each line against the event schema.
// Corrupt lines are skipped rather than failing the whole read.
func (s *FileSink) List(_ context.Context, from, to time.Time) ([]Event, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read events file: %w", err)
	}

	var events []Event
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var decoded any
		if err := json.Unmarshal(line, &decoded); err != nil {
			continue
		}
		if err := s.schema.Validate(decoded); err != nil {
			continue
		}

		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		if inRange(event.RecordedAt, from, to) {
			events = append(events, event)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events file: %w", err)
	}

	return events, nil
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func compileEventSchema() (*jsonschema.Schema, error) {
	doc := fmt.Sprintf(eventSchemaFormat, tariff.FixedCost)

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource("event.json", strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("add event schema: %w", err)
	}
	schema, err := compiler.Compile("event.json")
	if err != nil {
		return nil, fmt.Errorf("compile event schema: %w", err)
	}
	return schema, nil
}
