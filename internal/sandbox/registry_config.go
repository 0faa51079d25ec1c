package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// ContainerToolPrefix is where the image pre-installs tool integrations.
const ContainerToolPrefix = "/opt/mcp-venv/bin"

// RegistryRewrite describes the outcome of NormalizeRegistryConfig.
type RegistryRewrite struct {
	// Path is the file to mount: the temp copy if one was written,
	// otherwise the original.
	Path      string
	Temporary bool
	Rewritten []string
}

// NormalizeRegistryConfig rewrites bare command names in the mcpServers
// section of the agent's registry file to absolute paths. The original is
// never modified; when something changes, a copy is written beside it and
// the caller owns its removal. A malformed file yields the original path
// and a non-nil error the caller may log.
func NormalizeRegistryConfig(source string, useContainerTools bool, lookPath func(string) (string, error)) (RegistryRewrite, error) {
	out := RegistryRewrite{Path: source}
	raw, err := os.ReadFile(source)
	if err != nil {
		return out, err
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(jsonc.ToJSON(raw), &doc); err != nil {
		return out, fmt.Errorf("parse %s: %w", source, err)
	}
	servers, ok := doc["mcpServers"].(map[string]interface{})
	if !ok {
		return out, nil
	}

	for name, v := range servers {
		server, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		cmd, _ := server["command"].(string)
		if cmd == "" || strings.Contains(cmd, "/") {
			continue
		}
		var abs string
		if useContainerTools {
			abs = ContainerToolPrefix + "/" + cmd
		} else if lookPath != nil {
			if p, err := lookPath(cmd); err == nil {
				abs = p
			}
		}
		if abs == "" {
			continue
		}
		server["command"] = abs
		out.Rewritten = append(out.Rewritten, name)
	}
	if len(out.Rewritten) == 0 {
		return out, nil
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return out, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(source), ".claude.nightshift.*.json")
	if err != nil {
		return out, fmt.Errorf("create normalized copy: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return out, fmt.Errorf("write normalized copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return out, err
	}
	out.Path = tmp.Name()
	out.Temporary = true
	return out, nil
}
