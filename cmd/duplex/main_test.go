package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const manifest = `
name: catalog
requires: ">= 1.0.0"
actions:
  - method: get_item
    kind: request_response
    initiator: frontend
    input:
      type: object
      properties:
        id: {type: string}
      required: [id]
    output:
      type: object
      properties:
        name: {type: string}
  - method: reindex
    kind: local_call
    initiator: backend
    async: true
  - method: item_changed
    kind: remote_notification
    initiator: backend
`

func writeManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "actions.yaml")
	if err := os.WriteFile(path, []byte(manifest), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DUPLEX_MANIFEST", path)
	t.Setenv("DUPLEX_SIDE", "backend")
	t.Setenv("DUPLEX_HISTORY_DSN", "")
	t.Setenv("DUPLEX_TELEMETRY_ENABLED", "false")
	t.Setenv("DUPLEX_TRANSPORT", "")
	t.Setenv("LOG_LEVEL", "ERROR")
	return path
}

func run(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"duplex"}, args...), strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Usage(t *testing.T) {
	if code, _, _ := run(t, ""); code != 2 {
		t.Errorf("no args: exit %d, want 2", code)
	}
	if code, _, stderr := run(t, "", "explode"); code != 2 || !strings.Contains(stderr, "Unknown command") {
		t.Errorf("unknown command: exit %d, stderr %q", code, stderr)
	}
	if code, stdout, _ := run(t, "", "version"); code != 0 || !strings.Contains(stdout, "1.2.0") {
		t.Errorf("version: exit %d, stdout %q", code, stdout)
	}
}

func TestRun_Validate(t *testing.T) {
	path := writeManifest(t)

	code, stdout, stderr := run(t, "", "validate", path)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "catalog: 3 actions OK") {
		t.Errorf("stdout = %q", stdout)
	}

	if code, _, _ := run(t, "", "validate", filepath.Join(t.TempDir(), "missing.yaml")); code != 1 {
		t.Errorf("missing manifest: exit %d, want 1", code)
	}
}

func TestRun_Specs(t *testing.T) {
	writeManifest(t)

	code, stdout, stderr := run(t, "", "specs", "-json")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	var rows []map[string]any
	if err := json.Unmarshal([]byte(stdout), &rows); err != nil {
		t.Fatalf("specs output is not JSON: %v\n%s", err, stdout)
	}
	if len(rows) != 3 || rows[0]["method"] != "get_item" {
		t.Errorf("rows = %v", rows)
	}

	_, stdout, _ = run(t, "", "specs")
	if !strings.Contains(stdout, "reindex") || !strings.Contains(stdout, "async") {
		t.Errorf("table = %q", stdout)
	}
}

func TestRun_Receive(t *testing.T) {
	writeManifest(t)

	cases := []struct {
		name  string
		stdin string
		want  string
	}{
		{"default result", `{"jsonrpc":"2.0","id":1,"method":"get_item","params":{"id":"1"}}`, `"result":{}`},
		{"unknown method", `{"jsonrpc":"2.0","method":"unknown","id":1}`, `-32601`},
		{"empty batch", `[]`, `-32700`},
		{"bad params", `{"jsonrpc":"2.0","id":"x","method":"get_item","params":{}}`, `-32602`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, stdout, stderr := run(t, tc.stdin, "receive")
			if code != 0 {
				t.Fatalf("exit %d: %s", code, stderr)
			}
			if !strings.Contains(stdout, tc.want) {
				t.Errorf("stdout = %q, want it to contain %q", stdout, tc.want)
			}
		})
	}

	code, stdout, _ := run(t, `{"jsonrpc":"2.0","method":"item_changed"}`, "receive")
	if code != 0 || stdout != "" {
		t.Errorf("notification: exit %d, stdout %q", code, stdout)
	}
}

func TestRun_ReceiveWithHistory(t *testing.T) {
	writeManifest(t)
	t.Setenv("DUPLEX_HISTORY_DSN", "sqlite:"+filepath.Join(t.TempDir(), "history.db"))

	code, stdout, stderr := run(t, `{"jsonrpc":"2.0","id":2,"method":"get_item","params":{"id":"2"}}`, "receive")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, `"result":{}`) {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestRun_Call(t *testing.T) {
	writeManifest(t)

	code, stdout, stderr := run(t, "", "call", "get_item", `{"id":"7"}`)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if strings.TrimSpace(stdout) != "{}" {
		t.Errorf("stdout = %q", stdout)
	}

	if code, _, _ := run(t, "", "call", "get_item", `{}`); code != 1 {
		t.Errorf("invalid input: exit %d, want 1", code)
	}
	if code, _, _ := run(t, "", "call"); code != 2 {
		t.Errorf("no method: exit %d, want 2", code)
	}

	t.Setenv("DUPLEX_TRANSPORT", "carrier-pigeon")
	if code, _, stderr := run(t, "", "call", "get_item", `{"id":"7"}`); code != 2 || !strings.Contains(stderr, "loopback") {
		t.Errorf("unknown transport: exit %d, stderr %q", code, stderr)
	}
}
