package cases

import (
	"io"
)

// Iterator supplies cases one at a time. Next returns io.EOF when there are
// no more cases.
type Iterator interface {
	Next() (*Case, error)
}

// ListIterator iterates over an in-memory slice.
type ListIterator struct {
	cases []*Case
	pos   int
}

var _ Iterator = (*ListIterator)(nil)

// NewListIterator creates an iterator over cases. The slice is copied, the
// cases are not.
func NewListIterator(cases []*Case) *ListIterator {
	return &ListIterator{cases: append([]*Case(nil), cases...)}
}

// Next returns the next case.
func (it *ListIterator) Next() (*Case, error) {
	if it.pos >= len(it.cases) {
		return nil, io.EOF
	}
	c := it.cases[it.pos]
	it.pos++
	return c, nil
}

// Len returns the number of cases left.
func (it *ListIterator) Len() int {
	return len(it.cases) - it.pos
}

// Collect drains it into a slice.
func Collect(it Iterator) ([]*Case, error) {
	var out []*Case
	for {
		c, err := it.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
}
