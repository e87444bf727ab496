package cases

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/openfroyo/mdao/pkg/stores"
)

// DBRecorder appends cases to a run in a store. The run must exist.
type DBRecorder struct {
	mu    sync.Mutex
	store stores.Store
	runID string
	seq   int
}

var _ Recorder = (*DBRecorder)(nil)

// NewDBRecorder creates a recorder for runID.
func NewDBRecorder(store stores.Store, runID string) *DBRecorder {
	return &DBRecorder{store: store, runID: runID}
}

// RunID returns the run the recorder appends to.
func (r *DBRecorder) RunID() string {
	return r.runID
}

// Record stores c with the next sequence number.
func (r *DBRecorder) Record(ctx context.Context, c *Case) error {
	inputs, err := encodeItems(c.Inputs)
	if err != nil {
		return fmt.Errorf("failed to encode inputs of case %s: %w", c.UUID, err)
	}
	outputs, err := encodeItems(c.Outputs)
	if err != nil {
		return fmt.Errorf("failed to encode outputs of case %s: %w", c.UUID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec := &stores.CaseRecord{
		ID:      c.UUID,
		RunID:   r.runID,
		Seq:     r.seq,
		Label:   c.Label,
		Inputs:  inputs,
		Outputs: outputs,
		Msg:     c.Msg,
	}
	if err := r.store.AppendCase(ctx, rec); err != nil {
		return err
	}
	r.seq++
	return nil
}

// Close is a no-op; the store belongs to the caller.
func (r *DBRecorder) Close() error {
	return nil
}

// LoadRun returns the cases recorded for runID in recording order. The
// cases keep their recorded uuids and messages.
func LoadRun(ctx context.Context, store stores.Store, runID string) ([]*Case, error) {
	recs, err := store.ListCases(ctx, runID)
	if err != nil {
		return nil, err
	}

	out := make([]*Case, 0, len(recs))
	for _, rec := range recs {
		inputs, err := decodeItems(rec.Inputs)
		if err != nil {
			return nil, fmt.Errorf("failed to decode inputs of case %s: %w", rec.ID, err)
		}
		outputs, err := decodeItems(rec.Outputs)
		if err != nil {
			return nil, fmt.Errorf("failed to decode outputs of case %s: %w", rec.ID, err)
		}
		out = append(out, &Case{
			UUID:    rec.ID,
			Label:   rec.Label,
			Inputs:  inputs,
			Outputs: outputs,
			Msg:     rec.Msg,
		})
	}
	return out, nil
}

// encodeItems writes items as a JSON array of [name, value] pairs.
func encodeItems(items []Item) (string, error) {
	pairs := make([][2]any, len(items))
	for i, it := range items {
		pairs[i] = [2]any{it.Name, toJSON(it.Value)}
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// jsonFloat keeps a trailing ".0" on integral floats so they decode as
// floats again.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil, fmt.Errorf("unsupported float value %v", v)
	}
	return []byte(formatFloat(v)), nil
}

func toJSON(v any) any {
	switch x := v.(type) {
	case float64:
		return jsonFloat(x)
	case float32:
		return jsonFloat(x)
	case []float64:
		out := make([]jsonFloat, len(x))
		for i, f := range x {
			out[i] = jsonFloat(f)
		}
		return out
	default:
		return v
	}
}

func decodeItems(data string) ([]Item, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()

	var pairs [][2]any
	if err := dec.Decode(&pairs); err != nil {
		return nil, err
	}

	items := make([]Item, len(pairs))
	for i, p := range pairs {
		name, ok := p[0].(string)
		if !ok {
			return nil, fmt.Errorf("item %d has a non-string name", i)
		}
		items[i] = Item{Name: name, Value: fromJSON(p[1])}
	}
	return items, nil
}

// fromJSON maps decoded numbers back to int or float64 and numeric arrays
// back to []float64.
func fromJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i)
		}
		f, _ := x.Float64()
		return f
	case []any:
		floats := make([]float64, 0, len(x))
		for _, e := range x {
			n, ok := e.(json.Number)
			if !ok {
				return x
			}
			f, err := n.Float64()
			if err != nil {
				return x
			}
			floats = append(floats, f)
		}
		return floats
	default:
		return v
	}
}
