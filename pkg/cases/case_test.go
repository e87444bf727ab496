package cases

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCase(t *testing.T) {
	inputs := []Item{{Name: "comp1.x", Value: 8.1}}
	c := NewCase("case8", inputs, []string{"comp1.z", "comp2.z"})

	_, err := uuid.Parse(c.UUID)
	require.NoError(t, err)
	assert.Equal(t, "case8", c.Label)
	assert.Equal(t, []string{"comp1.z", "comp2.z"}, c.OutputNames())

	v, ok := c.Output("comp1.z")
	assert.True(t, ok)
	assert.Nil(t, v)

	// The inputs slice is copied
	inputs[0].Value = 0.0
	v, ok = c.Input("comp1.x")
	assert.True(t, ok)
	assert.Equal(t, 8.1, v)

	other := NewCase("case8", nil, nil)
	assert.NotEqual(t, c.UUID, other.UUID)
}

func TestCaseString(t *testing.T) {
	c := &Case{
		UUID:  "ad4c1b76-64fb-11e0-95a8-001e8cf75fe",
		Label: "case8",
		Inputs: []Item{
			{Name: "comp1.x", Value: 8.1},
			{Name: "comp1.y", Value: 16.1},
			{Name: "comp1.x_array[1]", Value: 99.88},
		},
		Outputs: []Item{
			{Name: "comp1.z", Value: 24.2},
			{Name: "comp2.z", Value: 25.2},
			{Name: "comp1.a_string", Value: "Hello',;','"},
			{Name: "comp1.a_array[2]", Value: 5.5},
		},
	}

	expected := strings.Join([]string{
		"Case: case8",
		"   uuid: ad4c1b76-64fb-11e0-95a8-001e8cf75fe",
		"   inputs:",
		"      comp1.x: 8.1",
		"      comp1.x_array[1]: 99.88",
		"      comp1.y: 16.1",
		"   outputs:",
		"      comp1.a_array[2]: 5.5",
		"      comp1.a_string: Hello',;','",
		"      comp1.z: 24.2",
		"      comp2.z: 25.2",
		"",
	}, "\n")
	assert.Equal(t, expected, c.String())

	c.Msg = "boom"
	assert.True(t, strings.HasSuffix(c.String(), "   msg: boom\n"))
}

func TestFormatAndParseValue(t *testing.T) {
	tests := []struct {
		value any
		text  string
	}{
		{value: 3.0, text: "3.0"},
		{value: 8.1, text: "8.1"},
		{value: 1e21, text: "1e+21"},
		{value: 7, text: "7"},
		{value: true, text: "true"},
		{value: "Goodbye z", text: "Goodbye z"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.text, FormatValue(tt.value))
			assert.Equal(t, tt.value, ParseValue(tt.text))
		})
	}

	assert.Equal(t, "None", FormatValue(nil))
	assert.Equal(t, "[1.0, 2.5]", FormatValue([]float64{1, 2.5}))
	assert.Equal(t, false, ParseValue("False"))
}

func TestListIteratorAndRecorder(t *testing.T) {
	ctx := context.Background()
	rec := NewListRecorder()

	for _, label := range []string{"a", "b", "c"} {
		require.NoError(t, rec.Record(ctx, NewCase(label, []Item{{Name: "comp.x", Value: 1.0}}, nil)))
	}

	// Recorded cases are snapshots
	got := rec.Cases()
	got[0].Label = "changed"
	assert.Equal(t, "a", rec.Cases()[0].Label)

	it := rec.Iterator()
	assert.Equal(t, 3, it.Len())

	all, err := Collect(it)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[2].Label)

	_, err = it.Next()
	assert.Equal(t, io.EOF, err)
	assert.NoError(t, rec.Close())
}

func TestDumpRecorder(t *testing.T) {
	var buf bytes.Buffer
	rec := NewDumpRecorder(&buf)

	c := NewCase("first", []Item{{Name: "comp.x", Value: 2}}, []string{"comp.y"})
	require.NoError(t, rec.Record(context.Background(), c))

	lines := strings.Split(buf.String(), "\n")
	assert.Equal(t, "Case: first", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "   uuid: "))
	assert.Equal(t, "      comp.x: 2", lines[3])
	assert.Equal(t, "      comp.y: None", lines[5])
	assert.True(t, strings.HasSuffix(buf.String(), "\n\n"))
}
