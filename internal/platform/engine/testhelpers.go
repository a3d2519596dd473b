package engine

import (
	"context"
	"testing"

	"embeddb/internal/platform/capability"
)

// NewTestHandle opens an in-memory engine handle with shimmed
// capabilities. The handle is closed automatically when the test ends.
func NewTestHandle(t *testing.T) *Handle {
	t.Helper()
	return NewTestHandleAt(t, MemoryStore)
}

// NewTestHandleAt opens an engine handle at the given store location for
// tests that need a persistent file, typically under t.TempDir().
func NewTestHandleAt(t *testing.T, storeLocation string) *Handle {
	t.Helper()

	gate := capability.NewGate(capability.Provider{}, nil)
	h, err := Open(context.Background(), DefaultConfig(storeLocation), gate.Provider(), nil)
	if err != nil {
		t.Fatalf("open test engine at %s: %v", storeLocation, err)
	}
	t.Cleanup(func() {
		_ = h.Close()
	})
	return h
}
