package gpio

import "fmt"

// FakeReader is a test double with scripted line values.
type FakeReader struct {
	// Lines maps offsets to their current occupancy. Unknown offsets error.
	Lines map[int]bool

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Occupied()
	ReadError error

	// Reads counts calls to Occupied.
	Reads int
}

// NewFakeReader creates a FakeReader with the given line values.
func NewFakeReader(lines map[int]bool) *FakeReader {
	if lines == nil {
		lines = make(map[int]bool)
	}
	return &FakeReader{Lines: lines}
}

// Occupied returns the scripted value for offset.
func (f *FakeReader) Occupied(offset int) (bool, error) {
	f.Reads++
	if f.ReadError != nil {
		return false, f.ReadError
	}
	v, ok := f.Lines[offset]
	if !ok {
		return false, fmt.Errorf("bed line %d not requested", offset)
	}
	return v, nil
}

// Set changes the value of a line.
func (f *FakeReader) Set(offset int, occupied bool) {
	f.Lines[offset] = occupied
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}
