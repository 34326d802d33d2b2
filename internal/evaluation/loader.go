package evaluation

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	apperrors "github.com/ricesearch/tsrr/internal/pkg/errors"
)

// entry is one query in a run file, either ranked or labeled.
type entry struct {
	ID           string       `json:"id" yaml:"id"`
	Items        []RankedItem `json:"items,omitempty" yaml:"items,omitempty"`
	Target       *string      `json:"target,omitempty" yaml:"target,omitempty"`
	Labels       []string     `json:"labels,omitempty" yaml:"labels,omitempty"`
	Similarities []float64    `json:"similarities,omitempty" yaml:"similarities,omitempty"`
}

func (e entry) addTo(run *Run) {
	if e.Target != nil || e.Labels != nil || e.Similarities != nil {
		lq := LabeledQuery{ID: e.ID, Labels: e.Labels, Similarities: e.Similarities}
		if e.Target != nil {
			lq.Target = *e.Target
		}
		run.AddLabeled(lq)
		return
	}
	run.Add(Query{ID: e.ID, Items: e.Items})
}

// LoadRun reads a run file. The format follows the extension: .json holds
// a {"queries", "labeled"} object or a bare array of queries, .jsonl one
// query per line, .yaml/.yml the same shapes as JSON. A trailing .zst means
// the file is zstd-compressed.
func LoadRun(path string) (*Run, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening run file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	name := strings.ToLower(path)
	if strings.HasSuffix(name, ".zst") {
		decoder, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer decoder.Close()
		r = decoder
		name = strings.TrimSuffix(name, ".zst")
	}

	run, err := DecodeRun(r, filepath.Ext(name))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return run, nil
}

// DecodeRun decodes a run in the format named by ext (".json", ".jsonl",
// ".yaml" or ".yml") and validates it.
func DecodeRun(r io.Reader, ext string) (*Run, error) {
	var (
		run *Run
		err error
	)
	switch ext {
	case ".json":
		run, err = decodeJSON(r)
	case ".jsonl", ".ndjson":
		run, err = decodeJSONL(r)
	case ".yaml", ".yml":
		run, err = decodeYAML(r)
	default:
		return nil, apperrors.InvalidInputError("unsupported run file format %q", ext)
	}
	if err != nil {
		return nil, err
	}

	if err := ValidateRun(*run); err != nil {
		return nil, err
	}
	return run, nil
}

type document struct {
	Queries []entry `json:"queries" yaml:"queries"`
	Labeled []entry `json:"labeled" yaml:"labeled"`
}

func (d document) run() *Run {
	run := &Run{}
	for _, e := range d.Queries {
		e.addTo(run)
	}
	for _, e := range d.Labeled {
		e.addTo(run)
	}
	return run
}

func decodeJSON(r io.Reader) (*Run, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []entry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, apperrors.InvalidInputError("invalid JSON run: %v", err)
		}
		return document{Queries: entries}.run(), nil
	}

	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, apperrors.InvalidInputError("invalid JSON run: %v", err)
	}
	return doc.run(), nil
}

func decodeJSONL(r io.Reader) (*Run, error) {
	run := &Run{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var e entry
		if err := json.Unmarshal(text, &e); err != nil {
			return nil, apperrors.InvalidInputError("invalid JSON on line %d: %v", line, err)
		}
		e.addTo(run)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return run, nil
}

func decodeYAML(r io.Reader) (*Run, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, apperrors.InvalidInputError("invalid YAML run: %v", err)
	}
	if len(node.Content) == 0 {
		return &Run{}, nil
	}

	if node.Content[0].Kind == yaml.SequenceNode {
		var entries []entry
		if err := node.Decode(&entries); err != nil {
			return nil, apperrors.InvalidInputError("invalid YAML run: %v", err)
		}
		return document{Queries: entries}.run(), nil
	}

	var doc document
	if err := node.Decode(&doc); err != nil {
		return nil, apperrors.InvalidInputError("invalid YAML run: %v", err)
	}
	return doc.run(), nil
}

// ValidateRun checks the structure of a run: query IDs are unique and
// labeled queries have one similarity per label. Item-level checks happen
// when each query is scored.
func ValidateRun(run Run) error {
	seen := make(map[string]bool, run.Len())
	check := func(id string) error {
		if id == "" {
			return nil
		}
		if seen[id] {
			return apperrors.InvalidInputError("duplicate query id %q", id).WithDetail("query_id", id)
		}
		seen[id] = true
		return nil
	}

	for _, q := range run.Queries {
		if err := check(q.ID); err != nil {
			return err
		}
	}
	for _, lq := range run.Labeled {
		if err := check(lq.ID); err != nil {
			return err
		}
		if len(lq.Labels) != len(lq.Similarities) {
			return apperrors.InvalidInputError("labels and similarities differ in length (%d != %d)",
				len(lq.Labels), len(lq.Similarities)).WithDetail("query_id", lq.ID)
		}
	}
	return nil
}
