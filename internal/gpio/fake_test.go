package gpio

import (
	"errors"
	"testing"
)

func TestFakeReaderOccupied(t *testing.T) {
	f := NewFakeReader(map[int]bool{26: true, 16: false})

	got, err := f.Occupied(26)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Error("line 26: got false, want true")
	}

	got, err = f.Occupied(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got {
		t.Error("line 16: got true, want false")
	}

	f.Set(16, true)
	if got, _ := f.Occupied(16); !got {
		t.Error("line 16 after Set: got false, want true")
	}
	if f.Reads != 3 {
		t.Errorf("Reads: got %d, want 3", f.Reads)
	}
}

func TestFakeReaderUnknownLine(t *testing.T) {
	f := NewFakeReader(nil)

	if _, err := f.Occupied(5); err == nil {
		t.Error("expected error for unrequested line")
	}
}

func TestFakeReaderError(t *testing.T) {
	f := NewFakeReader(map[int]bool{26: true})
	f.ReadError = errors.New("simulated error")

	_, err := f.Occupied(26)
	if err == nil {
		t.Error("expected error to be returned")
	}
	if err.Error() != "simulated error" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFakeReaderClose(t *testing.T) {
	f := NewFakeReader(nil)

	if f.Closed {
		t.Error("should not be closed initially")
	}
	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.Closed {
		t.Error("should be closed after Close()")
	}
}
