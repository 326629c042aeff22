package graph

import (
	"path"
	"regexp"
	"strings"

	"github.com/HendryAvila/memgraph/internal/memory"
)

// Extractor turns a memory into the nodes it references.
type Extractor interface {
	Extract(m memory.Memory) []NodeRef
}

// FieldExtractor derives nodes from structured fields: one per tag, one for
// the category, one topic node, and one per file path mentioned in the
// content. Results are deduplicated and capped at MaxNodes.
type FieldExtractor struct {
	MaxNodes int
}

var filePathRe = regexp.MustCompile(
	`(?:^|[\s("'\x60])((?:[A-Za-z0-9_.-]+/)*[A-Za-z0-9_-]+\.(?:go|py|ts|tsx|js|jsx|rs|java|kt|rb|php|c|h|cpp|cs|swift|md|yaml|yml|json|toml|sql|sh|proto|css|scss|html|vue))\b`,
)

// Extract implements Extractor.
func (x FieldExtractor) Extract(m memory.Memory) []NodeRef {
	var refs []NodeRef
	seen := map[string]bool{}
	add := func(ref NodeRef) {
		if ref.Key == "" {
			return
		}
		k := ref.Type + "\x00" + ref.Key + "\x00" + ref.Role
		if seen[k] {
			return
		}
		seen[k] = true
		refs = append(refs, ref)
	}

	for _, tag := range memory.NormalizeTags(m.Tags) {
		add(NodeRef{Type: NodeTag, Key: tag, Label: tag, Role: RoleTagged})
	}
	if m.Category != nil {
		if c := strings.ToLower(strings.TrimSpace(*m.Category)); c != "" {
			add(NodeRef{Type: NodeCategory, Key: c, Label: c, Role: RoleCategorized})
		}
	}
	if topic := inferTopic(m.Type, m.Content); topic != "" {
		add(NodeRef{Type: NodeTopic, Key: topic, Label: topic, Role: RoleAbout})
	}
	for _, match := range filePathRe.FindAllStringSubmatch(m.Content, -1) {
		p := strings.TrimPrefix(match[1], "./")
		add(NodeRef{
			Type:     NodeFile,
			Key:      p,
			Label:    path.Base(p),
			Role:     RoleMentions,
			Metadata: map[string]any{"ext": strings.TrimPrefix(path.Ext(p), ".")},
		})
	}

	if x.MaxNodes > 0 && len(refs) > x.MaxNodes {
		refs = refs[:x.MaxNodes]
	}
	return refs
}

// inferTopic maps a memory to a coarse topic family by keyword. Memories
// that match nothing get no topic node.
func inferTopic(typ, content string) string {
	text := strings.ToLower(content)
	switch {
	case hasAny(text, "bug", "fix", "panic", "crash", "regression", "incident", "hotfix"):
		return "bug"
	case hasAny(text, "architecture", "design", "adr", "boundary", "hexagonal", "refactor"):
		return "architecture"
	case hasAny(text, "test", "coverage", "fixture", "assert"):
		return "testing"
	case hasAny(text, "security", "auth", "token", "secret", "credential", "permission"):
		return "security"
	case hasAny(text, "pattern", "convention", "naming", "guideline", "style"):
		return "pattern"
	case hasAny(text, "config", "setup", "environment", "docker", "pipeline", "deploy"):
		return "config"
	case hasAny(text, "performance", "latency", "cache", "slow", "memory leak"):
		return "performance"
	}
	if typ == memory.TypeDecision {
		return "decision"
	}
	return ""
}

func hasAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
