package cases

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"sync"

	"github.com/openfroyo/mdao/pkg/engine"
)

// Section markers in a recorded CSV header.
const (
	SectionInputs   = "/INPUTS"
	SectionOutputs  = "/OUTPUTS"
	SectionMetadata = "/METADATA"

	labelColumn = "label"
	uuidColumn  = "uuid"
	msgColumn   = "msg"
)

type csvOptions struct {
	delimiter rune
	headers   map[int]string
}

// CSVOption configures CSV iterators and recorders.
type CSVOption func(*csvOptions)

// WithDelimiter sets the field delimiter. The default is a comma.
func WithDelimiter(r rune) CSVOption {
	return func(o *csvOptions) {
		o.delimiter = r
	}
}

// WithHeaders names the columns of a file that has no header row. Columns
// without a name are skipped; a column named "label" holds the case label.
func WithHeaders(headers map[int]string) CSVOption {
	return func(o *csvOptions) {
		o.headers = headers
	}
}

func newCSVOptions(opts []CSVOption) csvOptions {
	o := csvOptions{delimiter: ','}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type section int

const (
	sectionIn section = iota
	sectionOut
	sectionMeta
)

type column struct {
	index   int
	name    string
	section section
}

type layout struct {
	label   int
	columns []column
}

// parseLayout reads a header row. Without section markers every column but
// the label is an input.
func parseLayout(header []string) layout {
	l := layout{label: -1}
	sec := sectionIn
	for i, name := range header {
		switch name {
		case SectionInputs:
			sec = sectionIn
			continue
		case SectionOutputs:
			sec = sectionOut
			continue
		case SectionMetadata:
			sec = sectionMeta
			continue
		case "":
			continue
		}
		if sec != sectionMeta && name == labelColumn {
			l.label = i
			continue
		}
		l.columns = append(l.columns, column{index: i, name: name, section: sec})
	}
	return l
}

func layoutFromHeaders(headers map[int]string) layout {
	idx := make([]int, 0, len(headers))
	for i := range headers {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	l := layout{label: -1}
	for _, i := range idx {
		name := headers[i]
		if name == labelColumn {
			l.label = i
			continue
		}
		l.columns = append(l.columns, column{index: i, name: name, section: sectionIn})
	}
	return l
}

// CSVIterator supplies cases read from CSV data. Every row becomes a new
// case with a fresh uuid.
type CSVIterator struct {
	*ListIterator
}

var _ Iterator = (*CSVIterator)(nil)

// OpenCSVIterator reads the cases in the file at path.
func OpenCSVIterator(path string, opts ...CSVOption) (*CSVIterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open case file: %w", err)
	}
	defer f.Close()

	it, err := NewCSVIterator(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to read case file %s: %w", path, err)
	}
	return it, nil
}

// NewCSVIterator reads all cases from r up front, so format errors surface
// before the first case runs.
func NewCSVIterator(r io.Reader, opts ...CSVOption) (*CSVIterator, error) {
	o := newCSVOptions(opts)

	reader := csv.NewReader(r)
	reader.Comma = o.delimiter
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}

	var l layout
	if o.headers != nil {
		l = layoutFromHeaders(o.headers)
	} else {
		if len(rows) == 0 {
			return &CSVIterator{ListIterator: NewListIterator(nil)}, nil
		}
		l = parseLayout(rows[0])
		rows = rows[1:]
	}

	cases := make([]*Case, 0, len(rows))
	for n, row := range rows {
		c, err := l.caseFrom(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", n+1, err)
		}
		cases = append(cases, c)
	}

	return &CSVIterator{ListIterator: NewListIterator(cases)}, nil
}

func (l layout) caseFrom(row []string) (*Case, error) {
	cell := func(i int) (string, error) {
		if i >= len(row) {
			return "", fmt.Errorf("expected at least %d fields, got %d", i+1, len(row))
		}
		return row[i], nil
	}

	c := NewCase("", nil, nil)
	if l.label >= 0 {
		label, err := cell(l.label)
		if err != nil {
			return nil, err
		}
		c.Label = label
	}

	for _, col := range l.columns {
		if col.section == sectionMeta {
			continue
		}
		text, err := cell(col.index)
		if err != nil {
			return nil, err
		}
		switch col.section {
		case sectionIn:
			c.Inputs = append(c.Inputs, Item{Name: col.name, Value: ParseValue(text)})
		case sectionOut:
			var v any
			if text != "" {
				v = ParseValue(text)
			}
			c.Outputs = append(c.Outputs, Item{Name: col.name, Value: v})
		}
	}
	return c, nil
}

// CSVRecorder writes cases to a CSV file. The header is taken from the
// first case; later cases must have the same input and output names.
type CSVRecorder struct {
	mu      sync.Mutex
	path    string
	opts    csvOptions
	file    *os.File
	w       *csv.Writer
	inputs  []string
	outputs []string
}

var _ Recorder = (*CSVRecorder)(nil)

// NewCSVRecorder creates or truncates the file at path.
func NewCSVRecorder(path string, opts ...CSVOption) (*CSVRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create case file: %w", err)
	}

	o := newCSVOptions(opts)
	w := csv.NewWriter(f)
	w.Comma = o.delimiter

	return &CSVRecorder{path: path, opts: o, file: f, w: w}, nil
}

// Path returns the file the recorder writes to.
func (r *CSVRecorder) Path() string {
	return r.path
}

// Record appends c as a row. Values must be numbers, booleans or strings;
// an output that was never evaluated is written as an empty cell.
func (r *CSVRecorder) Record(_ context.Context, c *Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, it := range c.Inputs {
		if !csvSupported(it.Value) {
			return unsupportedType(it.Value)
		}
	}
	for _, it := range c.Outputs {
		if it.Value != nil && !csvSupported(it.Value) {
			return unsupportedType(it.Value)
		}
	}

	if r.inputs == nil && r.outputs == nil {
		r.inputs = itemNames(c.Inputs)
		r.outputs = itemNames(c.Outputs)
		if err := r.w.Write(r.header()); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
	} else if !equalNames(r.inputs, c.Inputs) || !equalNames(r.outputs, c.Outputs) {
		return engine.NewValueError(
			fmt.Sprintf("case '%s' does not match the CSV header", c.Label), nil,
		).WithCode(engine.ErrCodeValidation)
	}

	row := []string{c.Label, ""}
	for _, it := range c.Inputs {
		row = append(row, FormatValue(it.Value))
	}
	row = append(row, "")
	for _, it := range c.Outputs {
		if it.Value == nil {
			row = append(row, "")
			continue
		}
		row = append(row, FormatValue(it.Value))
	}
	row = append(row, "", c.UUID, c.Msg)

	if err := r.w.Write(row); err != nil {
		return fmt.Errorf("failed to write case %s: %w", c.UUID, err)
	}
	r.w.Flush()
	return r.w.Error()
}

func (r *CSVRecorder) header() []string {
	h := []string{labelColumn, SectionInputs}
	h = append(h, r.inputs...)
	h = append(h, SectionOutputs)
	h = append(h, r.outputs...)
	h = append(h, SectionMetadata, uuidColumn, msgColumn)
	return h
}

// Iterator reads back what has been recorded so far.
func (r *CSVRecorder) Iterator() (*CSVIterator, error) {
	r.mu.Lock()
	r.w.Flush()
	err := r.w.Error()
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to flush case file: %w", err)
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read case file: %w", err)
	}
	return NewCSVIterator(bytes.NewReader(data), WithDelimiter(r.opts.delimiter))
}

// Close flushes and closes the file.
func (r *CSVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	r.w.Flush()
	werr := r.w.Error()
	cerr := r.file.Close()
	r.file = nil
	if werr != nil {
		return fmt.Errorf("failed to flush case file: %w", werr)
	}
	return cerr
}

func csvSupported(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Bool, reflect.String:
		return true
	default:
		return false
	}
}

func unsupportedType(v any) error {
	return engine.NewValueError(
		fmt.Sprintf("CSV format does not support variables of type %T", v), nil,
	).WithCode(engine.ErrCodeType)
}

func itemNames(items []Item) []string {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	return names
}

func equalNames(names []string, items []Item) bool {
	if len(names) != len(items) {
		return false
	}
	for i, it := range items {
		if names[i] != it.Name {
			return false
		}
	}
	return true
}
