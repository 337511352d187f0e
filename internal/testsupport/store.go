package testsupport

import (
	"testing"

	"promptloom/internal/history"
	"promptloom/internal/project"
)

// MustOpenHistory opens the project's history store for tests and registers
// cleanup.
func MustOpenHistory(t testing.TB, proj *project.Project) *history.Store {
	t.Helper()

	store, err := history.Open(proj.HistoryPath())
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
