package app

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

const addPayload = `{"account":"0x1111111111111111111111111111111111111111","spender":"0x2222222222222222222222222222222222222222","token":"0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE","allowance":"1000000000000000","period":86400,"start":1700000000,"end":1700086400,"salt":"7","extraData":"0x","signature":"0xdeadbeef"}`

func isolateStore(t *testing.T) {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("SPENDRUNNER_TASKS_PATH", filepath.Join(tmp, "tasks.db"))
	t.Setenv("SPENDRUNNER_TASKS_LOCK_PATH", filepath.Join(tmp, "tasks.lock"))
	t.Setenv("XDG_CONFIG_HOME", tmp)
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("spendrunner task list"); got != "task list" {
		t.Fatalf("unexpected trim result: %s", got)
	}
}

func TestRunnerVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"version"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	if strings.TrimSpace(stdout.String()) == "" {
		t.Fatal("expected version output")
	}
}

func TestRunnerTaskAddThenGet(t *testing.T) {
	isolateStore(t)

	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"task", "add", "--id", "task-1", "--payload", addPayload})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var created map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &created); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout.String())
	}
	if created["id"] != "task-1" || created["status"] != "pending" {
		t.Fatalf("unexpected task: %v", created)
	}

	stdout.Reset()
	r = NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"task", "get", "task-1"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var got map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout.String())
	}
	if got["id"] != "task-1" {
		t.Fatalf("unexpected task: %v", got)
	}
}

func TestRunnerTaskAddRejectsBadPermission(t *testing.T) {
	isolateStore(t)

	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"task", "add", "--payload", `{"account":"nope"}`})
	if code == 0 {
		t.Fatal("expected nonzero exit for bad payload")
	}
	var body map[string]any
	if err := json.Unmarshal(stderr.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse error body: %v output=%s", err, stderr.String())
	}
	if body["success"] != false {
		t.Fatalf("expected success=false, got %v", body["success"])
	}
}

func TestRunnerUnknownCommandIsUsageError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"definitely-not-a-command"}); code != 2 {
		t.Fatalf("expected usage exit code 2, got %d", code)
	}
}

func TestRunnerTaskListFiltersStatus(t *testing.T) {
	isolateStore(t)

	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"task", "add", "--id", "task-1", "--payload", addPayload}); code != 0 {
		t.Fatalf("add failed: %s", stderr.String())
	}

	stdout.Reset()
	r = NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"task", "list", "--status", "pending"}); code != 0 {
		t.Fatalf("list failed: %s", stderr.String())
	}
	var tasks []map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &tasks); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout.String())
	}
	if len(tasks) != 1 || tasks[0]["id"] != "task-1" {
		t.Fatalf("unexpected list: %v", tasks)
	}

	stdout.Reset()
	r = NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"task", "list", "--status", "destroyed"}); code != 2 {
		t.Fatalf("expected usage error for bad status, got %d", code)
	}
}
