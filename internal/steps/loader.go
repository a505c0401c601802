// internal/steps/loader.go
package steps

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Format is a step file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// csvColumns is the header a CSV step file uses. Column order is free.
var csvColumns = []string{"action", "locator", "locatorType", "value", "waitBefore", "waitAfter", "description"}

// RecordError rejects one record of a step file.
type RecordError struct {
	Index int
	Field string
	Err   error
}

func (e *RecordError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("step %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("step %d: field %q: %v", e.Index, e.Field, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".csv":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unsupported step file extension %q", filepath.Ext(path))
}

// Load reads and validates a step file.
func Load(path string) (*Source, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand step file path %q: %w", path, err)
	}
	format, err := FormatFor(expanded)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to open step file: %w", err)
	}
	defer f.Close()
	return Parse(f, format, filepath.Base(expanded))
}

// Parse decodes and validates steps from r.
func Parse(r io.Reader, format Format, name string) (*Source, error) {
	var (
		records []record
		err     error
	)
	switch format {
	case FormatYAML:
		records, err = decodeYAML(r)
	case FormatJSON:
		records, err = decodeJSON(r)
	case FormatCSV:
		records, err = decodeCSV(r)
	default:
		return nil, fmt.Errorf("unsupported step format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s steps from %s: %w", format, name, err)
	}

	steps := make([]schemas.Step, 0, len(records))
	for i, rec := range records {
		step, err := rec.step(i)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return NewSource(name, steps), nil
}

// record is the wire form of a step before validation.
type record struct {
	Action      string `json:"action" yaml:"action"`
	Locator     scalar `json:"locator" yaml:"locator"`
	LocatorType string `json:"locatorType" yaml:"locatorType"`
	Value       scalar `json:"value" yaml:"value"`
	WaitBefore  wait   `json:"waitBefore" yaml:"waitBefore"`
	WaitAfter   wait   `json:"waitAfter" yaml:"waitAfter"`
	Description string `json:"description" yaml:"description"`
}

func (rec record) step(index int) (schemas.Step, error) {
	if rec.WaitBefore.err != nil {
		return schemas.Step{}, &RecordError{Index: index, Field: "waitBefore", Err: rec.WaitBefore.err}
	}
	if rec.WaitAfter.err != nil {
		return schemas.Step{}, &RecordError{Index: index, Field: "waitAfter", Err: rec.WaitAfter.err}
	}
	kind, err := schemas.ParseActionKind(rec.Action)
	if err != nil {
		return schemas.Step{}, &RecordError{Index: index, Field: "action", Err: err}
	}
	step := schemas.Step{
		Action:      kind,
		Locator:     strings.TrimSpace(string(rec.Locator)),
		LocatorType: strings.TrimSpace(rec.LocatorType),
		Value:       string(rec.Value),
		WaitBefore:  rec.WaitBefore.d,
		WaitAfter:   rec.WaitAfter.d,
		Description: strings.TrimSpace(rec.Description),
	}
	if err := step.Validate(); err != nil {
		var ve *schemas.StepValidationError
		if errors.As(err, &ve) {
			return schemas.Step{}, &RecordError{Index: index, Field: ve.Field, Err: err}
		}
		return schemas.Step{}, &RecordError{Index: index, Err: err}
	}
	return step, nil
}

// scalar accepts a string or a bare number.
type scalar string

func (s *scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = scalar(str)
		return nil
	}
	*s = scalar(data)
	return nil
}

func (s *scalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar", node.Line)
	}
	if node.Tag == "!!null" {
		*s = ""
		return nil
	}
	*s = scalar(node.Value)
	return nil
}

// wait is a duration given as integer milliseconds or a duration string.
// Decoding errors are kept so they can be reported against the record.
type wait struct {
	d   time.Duration
	err error
}

func (w *wait) set(v string) {
	w.d, w.err = schemas.ParseWait(v)
}

func (w *wait) UnmarshalJSON(data []byte) error {
	var s scalar
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	w.set(string(s))
	return nil
}

func (w *wait) UnmarshalYAML(node *yaml.Node) error {
	var s scalar
	if err := s.UnmarshalYAML(node); err != nil {
		return err
	}
	w.set(string(s))
	return nil
}

// document is the object form of a step file: {name, steps}.
type document struct {
	Name  string   `json:"name" yaml:"name"`
	Steps []record `json:"steps" yaml:"steps"`
}

func decodeYAML(r io.Reader) ([]record, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(r).Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	body := root.Content[0]
	if body.Kind == yaml.SequenceNode {
		var records []record
		if err := body.Decode(&records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var doc document
	if err := body.Decode(&doc); err != nil {
		return nil, err
	}
	return doc.Steps, nil
}

func decodeJSON(r io.Reader) ([]record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var records []record
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Steps, nil
}

func decodeCSV(r io.Reader) ([]record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	columns := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		for _, known := range csvColumns {
			if strings.EqualFold(name, known) {
				columns[known] = i
			}
		}
	}
	if _, ok := columns["action"]; !ok {
		return nil, fmt.Errorf("csv header has no action column")
	}

	var records []record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		get := func(col string) string {
			i, ok := columns[col]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		}
		rec := record{
			Action:      get("action"),
			Locator:     scalar(get("locator")),
			LocatorType: get("locatorType"),
			Value:       scalar(get("value")),
			Description: get("description"),
		}
		rec.WaitBefore.set(get("waitBefore"))
		rec.WaitAfter.set(get("waitAfter"))
		records = append(records, rec)
	}
	return records, nil
}
