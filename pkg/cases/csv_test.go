package cases

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/mdao/pkg/engine"
)

func recordedCases() []*Case {
	var out []*Case
	for i := 0; i < 10; i++ {
		c := NewCase("case"+string(rune('0'+i)), []Item{
			{Name: "comp1.x", Value: float64(i) + 0.1},
			{Name: "comp1.y", Value: float64(i*2) + 0.1},
			{Name: "comp1.x_array[1]", Value: 99.88},
		}, []string{"comp1.z", "comp2.z", "comp1.a_string", "comp1.a_array[2]"})
		c.Outputs[0].Value = float64(i)*3 + 0.2
		c.Outputs[1].Value = float64(i)*3 + 1.2
		c.Outputs[2].Value = "Hello',;','"
		c.Outputs[3].Value = 5.5
		out = append(out, c)
	}
	return out
}

func TestCSVRoundTrip(t *testing.T) {
	for _, delim := range []rune{',', ';'} {
		t.Run(string(delim), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cases.csv")
			rec, err := NewCSVRecorder(path, WithDelimiter(delim))
			require.NoError(t, err)
			defer rec.Close()

			ctx := context.Background()
			want := recordedCases()
			for _, c := range want {
				require.NoError(t, rec.Record(ctx, c))
			}

			it, err := rec.Iterator()
			require.NoError(t, err)
			got, err := Collect(it)
			require.NoError(t, err)
			require.Len(t, got, len(want))

			c8 := got[8]
			assert.Equal(t, "case8", c8.Label)
			assert.NotEqual(t, want[8].UUID, c8.UUID)
			assert.Equal(t, want[8].Inputs, c8.Inputs)

			s, ok := c8.Output("comp1.a_string")
			assert.True(t, ok)
			assert.Equal(t, "Hello',;','", s)
			a, _ := c8.Output("comp1.a_array[2]")
			assert.Equal(t, 5.5, a)
		})
	}
}

func TestCSVRecorderHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cases.csv")
	rec, err := NewCSVRecorder(path)
	require.NoError(t, err)

	c := NewCase("one", []Item{{Name: "comp.x", Value: 1.0}}, []string{"comp.y"})
	c.Msg = "failed"
	require.NoError(t, rec.Record(context.Background(), c))
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "label,/INPUTS,comp.x,/OUTPUTS,comp.y,/METADATA,uuid,msg", lines[0])
	assert.Equal(t, "one,,1.0,,,,"+c.UUID+",failed", lines[1])
}

func TestCSVRecorderMessages(t *testing.T) {
	rec, err := NewCSVRecorder(filepath.Join(t.TempDir(), "cases.csv"))
	require.NoError(t, err)
	defer rec.Close()

	ctx := context.Background()

	err = rec.Record(ctx, NewCase("", []Item{{Name: "comp2.a_slot", Value: nil}}, nil))
	require.Error(t, err)
	assert.Equal(t, "CSV format does not support variables of type <nil>", err.Error())
	assert.True(t, engine.IsValueError(err))

	err = rec.Record(ctx, NewCase("", []Item{{Name: "comp.m", Value: map[string]int{}}}, nil))
	require.Error(t, err)
	assert.Equal(t, "CSV format does not support variables of type map[string]int", err.Error())

	require.NoError(t, rec.Record(ctx, NewCase("a", []Item{{Name: "comp.x", Value: 1}}, nil)))
	err = rec.Record(ctx, NewCase("b", []Item{{Name: "comp.other", Value: 1}}, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match the CSV header")
}

func TestCSVIteratorExternalFileWithHeader(t *testing.T) {
	data := `"comp1.x", "comp1.y", "comp2.b_string"
33.5, 76.2, "Hello There"
3.14159, 0, "Goodbye z"
`
	it, err := NewCSVIterator(strings.NewReader(data))
	require.NoError(t, err)
	got, err := Collect(it)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, []Item{
		{Name: "comp1.x", Value: 3.14159},
		{Name: "comp1.y", Value: 0},
		{Name: "comp2.b_string", Value: "Goodbye z"},
	}, got[1].Inputs)
	assert.Empty(t, got[1].Outputs)
	assert.Equal(t, "", got[1].Label)

	data = `"label", "comp1.x", "comp1.y", "comp2.b_string"
"case1", 33.5, 76.2, "Hello There"
`
	it, err = NewCSVIterator(strings.NewReader(data))
	require.NoError(t, err)
	c, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, "case1", c.Label)
	assert.Len(t, c.Inputs, 3)
}

func TestCSVIteratorExternalFileWithoutHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cases.csv")
	require.NoError(t, os.WriteFile(path, []byte("\"case1\", 33.5, 76.2, \"Hello There\"\n"), 0o644))

	it, err := OpenCSVIterator(path, WithHeaders(map[int]string{
		0: "label",
		1: "comp1.x",
		2: "comp1.y",
		3: "comp2.b_string",
	}))
	require.NoError(t, err)

	c, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, "case1", c.Label)
	assert.Equal(t, []Item{
		{Name: "comp1.x", Value: 33.5},
		{Name: "comp1.y", Value: 76.2},
		{Name: "comp2.b_string", Value: "Hello There"},
	}, c.Inputs)
}

func TestCSVIteratorErrors(t *testing.T) {
	_, err := OpenCSVIterator(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)

	_, err = NewCSVIterator(strings.NewReader("a,b,c\n1,2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 1")

	it, err := NewCSVIterator(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, 0, it.Len())
}
