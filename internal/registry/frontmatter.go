package registry

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterDelim = "---"

// frontmatterDoc is the YAML header of an agent definition file. Field
// names mirror the AgentDefinition front-matter keys (§6).
type frontmatterDoc struct {
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description"`
	Model        string         `yaml:"model"`
	Thinking     string         `yaml:"thinking"`
	Tools        []string       `yaml:"tools"`
	Spawns       string         `yaml:"spawns"`
	Blocking     bool           `yaml:"blocking"`
	Disabled     bool           `yaml:"disabled"`
	OutputSchema map[string]any `yaml:"output_schema"`
}

// splitFrontmatter separates a "---\n<yaml>\n---\n<body>" document into
// its YAML header and markdown body. Files without a leading "---" are
// treated as body-only with an empty header.
func splitFrontmatter(raw string) (header, body string, err error) {
	trimmed := strings.TrimLeft(raw, "﻿")
	if !strings.HasPrefix(trimmed, frontmatterDelim) {
		return "", raw, nil
	}

	rest := trimmed[len(frontmatterDelim):]
	rest = strings.TrimPrefix(rest, "\r\n")
	rest = strings.TrimPrefix(rest, "\n")

	end := strings.Index(rest, "\n"+frontmatterDelim)
	if end < 0 {
		return "", "", fmt.Errorf("frontmatter: closing %q delimiter not found", frontmatterDelim)
	}

	header = rest[:end]
	afterDelim := rest[end+1+len(frontmatterDelim):]
	afterDelim = strings.TrimPrefix(afterDelim, "\r\n")
	body = strings.TrimPrefix(afterDelim, "\n")
	return header, body, nil
}

// parseDocument parses one agent definition file's raw bytes into a
// frontmatter header plus a system-prompt body.
func parseDocument(raw string) (frontmatterDoc, string, error) {
	header, body, err := splitFrontmatter(raw)
	if err != nil {
		return frontmatterDoc{}, "", err
	}

	var doc frontmatterDoc
	if strings.TrimSpace(header) != "" {
		if err := yaml.Unmarshal([]byte(header), &doc); err != nil {
			return frontmatterDoc{}, "", fmt.Errorf("frontmatter: invalid yaml: %w", err)
		}
	}
	return doc, strings.TrimSpace(body), nil
}
