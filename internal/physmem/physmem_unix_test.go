//go:build unix

package physmem

import (
	"testing"
)

func TestMapUnix(t *testing.T) {
	data, cleanup, err := Map(8192)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	defer func() {
		if cleanupErr := cleanup(); cleanupErr != nil {
			t.Fatalf("cleanup: %v", cleanupErr)
		}
	}()
	if len(data) != 8192 {
		t.Fatalf("len mismatch: got %d want %d", len(data), 8192)
	}
	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d not zero: 0x%x", i, b)
		}
	}
	data[0], data[8191] = 0xde, 0xad
	if data[0] != 0xde || data[8191] != 0xad {
		t.Fatalf("mapping is not writable")
	}
}

func TestMapUnixZeroLength(t *testing.T) {
	data, cleanup, err := Map(0)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected zero-length mapping, got %d", len(data))
	}
	if cleanup == nil {
		t.Fatalf("expected cleanup function")
	}
	if cleanupErr := cleanup(); cleanupErr != nil {
		t.Fatalf("cleanup: %v", cleanupErr)
	}
}

func TestMapUnixDoubleCleanup(t *testing.T) {
	_, cleanup, err := Map(4096)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := cleanup(); err != nil {
		t.Fatalf("first cleanup: %v", err)
	}
	if err := cleanup(); err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
}

func TestMapNegative(t *testing.T) {
	if _, _, err := Map(-1); err == nil {
		t.Fatalf("expected error for negative size")
	}
}
