package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Category identifies a class of recurring installation failure.
type Category string

const (
	CategoryEncoding   Category = "encoding_issues"
	CategoryDependency Category = "dependency_failures"
	CategoryPermission Category = "permission_errors"
	CategoryNetwork    Category = "network_issues"
)

// DefaultIssuesFile is the optional known-issues database in the working directory.
const DefaultIssuesFile = "noxsuite_issues.json"

// KnownIssue maps error-text patterns of one category onto remedies.
// Patterns are matched case-insensitively as substrings.
type KnownIssue struct {
	Category  Category `json:"-"`
	Patterns  []string `json:"patterns"`
	Solutions []string `json:"solutions"`
}

// DefaultKnownIssues is the built-in table, in evaluation order.
func DefaultKnownIssues() []KnownIssue {
	return []KnownIssue{
		{
			Category: CategoryEncoding,
			Patterns: []string{
				"UnicodeDecodeError", "codec can't decode", "charmap",
				"invalid utf-8", "illegal byte sequence",
			},
			Solutions: []string{"force_utf8", "fallback_encoding", "safe_decode"},
		},
		{
			Category: CategoryDependency,
			Patterns: []string{
				"command not found", "executable file not found", "dependency_error",
				"ModuleNotFoundError", "ImportError", "not installed",
			},
			Solutions: []string{"alternative_package_manager", "manual_install", "containerized_fallback"},
		},
		{
			Category: CategoryPermission,
			Patterns: []string{
				"Permission denied", "PermissionError", "Access is denied",
				"operation not permitted",
			},
			Solutions: []string{"elevate_privileges", "user_directory", "docker_mode"},
		},
		{
			Category: CategoryNetwork,
			Patterns: []string{
				"ConnectionError", "timeout", "timed out", "refused", "unreachable",
				"no such host", "deadline exceeded",
			},
			Solutions: []string{"retry_with_backoff", "alternative_mirror", "offline_mode"},
		},
	}
}

// categoryOrder fixes where the built-in categories sort in a loaded table.
var categoryOrder = map[Category]int{
	CategoryEncoding:   0,
	CategoryDependency: 1,
	CategoryPermission: 2,
	CategoryNetwork:    3,
}

// LoadKnownIssues reads a known-issues database of the form
// {"<category>": {"patterns": [...], "solutions": [...]}}.
// Built-in categories keep their evaluation order; others follow by name.
func LoadKnownIssues(path string) ([]KnownIssue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]KnownIssue
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse known issues %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("known issues %s is empty", path)
	}

	issues := make([]KnownIssue, 0, len(raw))
	for name, issue := range raw {
		issue.Category = Category(name)
		issues = append(issues, issue)
	}
	sort.Slice(issues, func(i, j int) bool {
		oi, iok := categoryOrder[issues[i].Category]
		oj, jok := categoryOrder[issues[j].Category]
		switch {
		case iok && jok:
			return oi < oj
		case iok != jok:
			return iok
		default:
			return issues[i].Category < issues[j].Category
		}
	})
	return issues, nil
}

// KnownIssuesOrDefault loads path, falling back to the built-in table when
// the file is absent or unreadable.
func KnownIssuesOrDefault(path string) []KnownIssue {
	if path == "" {
		return DefaultKnownIssues()
	}
	issues, err := LoadKnownIssues(path)
	if err != nil {
		return DefaultKnownIssues()
	}
	return issues
}

// match returns the first pattern of the issue found in text.
func (k KnownIssue) match(lowerText string) (string, bool) {
	for _, p := range k.Patterns {
		if p != "" && strings.Contains(lowerText, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}
