package sandbox

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
)

func TestNormalizeRegistryConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	source := filepath.Join(dir, ".claude.json")
	original := `{
  // user comments survive only in the original
  "theme": "dark",
  "mcpServers": {
    "fs":     {"command": "mcp-fs", "args": ["--root", "/work"]},
    "abs":    {"command": "/opt/tools/mcp-abs"},
    "remote": {"url": "https://example.invalid/mcp"},
    "gone":   {"command": "not-installed"},
  }
}`
	if err := os.WriteFile(source, []byte(original), 0o600); err != nil {
		t.Fatal(err)
	}
	lookPath := func(name string) (string, error) {
		if name == "mcp-fs" {
			return "/home/u/.local/bin/mcp-fs", nil
		}
		return noLookPath(name)
	}

	rw, err := NormalizeRegistryConfig(source, false, lookPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Remove(rw.Path) })

	if !rw.Temporary || rw.Path == source || filepath.Dir(rw.Path) != dir {
		t.Fatalf("rewrite = %+v", rw)
	}
	if !reflect.DeepEqual(rw.Rewritten, []string{"fs"}) {
		t.Fatalf("rewritten = %v", rw.Rewritten)
	}

	after, _ := os.ReadFile(source)
	if string(after) != original {
		t.Fatal("original registry modified")
	}

	var doc struct {
		Theme      string                            `json:"theme"`
		MCPServers map[string]map[string]interface{} `json:"mcpServers"`
	}
	data, _ := os.ReadFile(rw.Path)
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("normalized copy is not JSON: %v", err)
	}
	if doc.Theme != "dark" {
		t.Errorf("unrelated keys dropped: %+v", doc)
	}
	if doc.MCPServers["fs"]["command"] != "/home/u/.local/bin/mcp-fs" {
		t.Errorf("fs = %v", doc.MCPServers["fs"])
	}
	if doc.MCPServers["abs"]["command"] != "/opt/tools/mcp-abs" || doc.MCPServers["gone"]["command"] != "not-installed" {
		t.Errorf("untouched entries changed: %v", doc.MCPServers)
	}
}

func TestNormalizeRegistryConfigContainerTools(t *testing.T) {
	t.Parallel()
	source := filepath.Join(t.TempDir(), ".claude.json")
	if err := os.WriteFile(source, []byte(`{"mcpServers":{"a":{"command":"x"},"b":{"command":"y"}}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	rw, err := NormalizeRegistryConfig(source, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(rw.Path)
	sort.Strings(rw.Rewritten)
	if !reflect.DeepEqual(rw.Rewritten, []string{"a", "b"}) {
		t.Fatalf("rewritten = %v", rw.Rewritten)
	}
}

func TestNormalizeRegistryConfigNoChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cases := map[string]string{
		"no-servers.json": `{"theme":"light"}`,
		"absolute.json":   `{"mcpServers":{"a":{"command":"/bin/tool"}}}`,
	}
	for name, content := range cases {
		source := filepath.Join(dir, name)
		if err := os.WriteFile(source, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		rw, err := NormalizeRegistryConfig(source, true, nil)
		if err != nil || rw.Temporary || rw.Path != source {
			t.Errorf("%s: %+v, %v", name, rw, err)
		}
	}
}

func TestNormalizeRegistryConfigMalformed(t *testing.T) {
	t.Parallel()
	source := filepath.Join(t.TempDir(), ".claude.json")
	if err := os.WriteFile(source, []byte(`{"mcpServers": `), 0o600); err != nil {
		t.Fatal(err)
	}
	rw, err := NormalizeRegistryConfig(source, true, nil)
	if err == nil {
		t.Fatal("malformed registry parsed")
	}
	if rw.Path != source || rw.Temporary {
		t.Fatalf("fallback = %+v", rw)
	}
}
