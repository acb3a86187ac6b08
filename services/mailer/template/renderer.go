package template

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)*)\}`)

// Render substitutes {name} and {a.b} placeholders in the template
// text. It is side-effect-free: unresolved placeholders pass through
// verbatim and substitution never fails.
func Render(templateText string, context map[string]interface{}) string {
	return placeholderRe.ReplaceAllStringFunc(templateText, func(match string) string {
		path := match[1 : len(match)-1]
		if value, ok := lookup(context, strings.Split(path, ".")); ok {
			return value
		}
		return match
	})
}

// RenderFile reads the template file and renders it. A missing template
// is a configuration error surfaced before any send attempt.
func RenderFile(templatePath string, context map[string]interface{}) (string, error) {
	data, err := os.ReadFile(templatePath)
	if err != nil {
		return "", fmt.Errorf("failed to read template %s: %w", templatePath, err)
	}
	return Render(string(data), context), nil
}

// ValidateTemplate checks the template exists and is readable without
// rendering it.
func ValidateTemplate(templatePath string) error {
	info, err := os.Stat(templatePath)
	if err != nil {
		return fmt.Errorf("template %s is not readable: %w", templatePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("template %s is a directory", templatePath)
	}
	return nil
}

// lookup resolves a dotted path through nested maps. Values may be
// strings or nested map[string]string / map[string]interface{}.
func lookup(context map[string]interface{}, path []string) (string, bool) {
	current := interface{}(context)
	for i, key := range path {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[key]
			if !ok {
				return "", false
			}
			current = next
		case map[string]string:
			value, ok := node[key]
			if !ok || i != len(path)-1 {
				return "", false
			}
			return value, true
		default:
			return "", false
		}
	}

	if value, ok := current.(string); ok {
		return value, true
	}
	return "", false
}
