// Package testutil provides shared test helpers: a fake REST backend, a
// temporary local store, and polling for asynchronous effects.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/mailroom/internal/localstore"
)

// TestStore creates a temporary SQLite local store that is automatically cleaned up.
func TestStore(t *testing.T) *localstore.DB {
	t.Helper()
	db, err := localstore.Open(filepath.Join(t.TempDir(), "mailroom.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Eventually polls cond until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}
