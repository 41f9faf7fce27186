package task

import (
	"path/filepath"
	"strings"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "tasks.db"), filepath.Join(dir, "tasks.lock"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreAddGetList(t *testing.T) {
	store := openTestStore(t)

	created := New("task-1", KindSnipe, `{"allowance":"1"}`, "user-1")
	if err := store.Add(created); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got, err := store.Get("task-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Type != KindSnipe || got.Status != StatusPending {
		t.Fatalf("unexpected task: %+v", got)
	}
	if got.UserID != "user-1" {
		t.Fatalf("unexpected user id: %s", got.UserID)
	}

	pending, err := store.ListPending()
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "task-1" {
		t.Fatalf("unexpected pending tasks: %+v", pending)
	}
}

func TestStoreGetMissingTask(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Get("missing"); err == nil {
		t.Fatal("expected missing task error")
	}
}

func TestStoreClaimIsExclusive(t *testing.T) {
	store := openTestStore(t)
	if err := store.Add(New("task-1", KindSnipe, "{}", "")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	claimed, err := store.Claim("task-1")
	if err != nil || !claimed {
		t.Fatalf("first claim should succeed, got %v %v", claimed, err)
	}
	claimed, err = store.Claim("task-1")
	if err != nil {
		t.Fatalf("second claim errored: %v", err)
	}
	if claimed {
		t.Fatal("second claim must fail while task is running")
	}

	if err := store.Release("task-1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	got, err := store.Get("task-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("released task should be pending, got %s", got.Status)
	}
}

func TestStoreUpdateStatusAppendsLog(t *testing.T) {
	store := openTestStore(t)
	if err := store.Add(New("task-1", KindSnipe, "{}", "")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	first := "Approve hash: 0xabc\n"
	if err := store.UpdateStatus("task-1", StatusRunning, first); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	longer := first + "Spend hash: 0xdef\n"
	if err := store.UpdateStatus("task-1", StatusRunning, longer); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	got, err := store.Get("task-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !strings.HasPrefix(got.Log, first) {
		t.Fatalf("prior log lines were not preserved: %q", got.Log)
	}
	if got.Log != longer {
		t.Fatalf("unexpected log: %q", got.Log)
	}
	lines := got.LogLines()
	if len(lines) != 2 || lines[0] != "Approve hash: 0xabc" {
		t.Fatalf("unexpected log lines: %v", lines)
	}
}

func TestStoreUpdateStatusMissingTask(t *testing.T) {
	store := openTestStore(t)
	if err := store.UpdateStatus("missing", StatusFailed, "boom"); err == nil {
		t.Fatal("expected missing task error")
	}
}
