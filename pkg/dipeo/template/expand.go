// Package template expands variable placeholders in prompt and template
// strings. Two styles are recognized: ${var} / $var, and {{var}} with
// dotted paths into nested maps ({{result.score}}).
package template

import (
	"fmt"
	"regexp"
	"strings"
)

// Regular expressions for variable patterns.
var (
	// bracePattern matches ${varname}.
	bracePattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

	// dollarPattern matches $varname followed by a non-word character or
	// end of string, so $port never matches inside $portNumber.
	dollarPattern = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)(?:\b|$)`)

	// mustachePattern matches {{varname}} or {{var.path}} with optional
	// surrounding whitespace.
	mustachePattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.]*)\s*\}\}`)
)

// MissingAction specifies how to handle missing variables.
type MissingAction int

const (
	// MissingKeep keeps the placeholder as-is when the variable is not
	// found. This is the default behavior.
	MissingKeep MissingAction = iota

	// MissingEmpty replaces the placeholder with an empty string.
	MissingEmpty

	// MissingError returns an error when a variable is not found.
	MissingError
)

// Option configures an Expander.
type Option func(*Expander)

// WithMissingAction sets how missing variables are handled.
func WithMissingAction(action MissingAction) Option {
	return func(e *Expander) { e.missingAction = action }
}

// WithDollarStyle enables or disables ${var} and $var expansion.
func WithDollarStyle(enabled bool) Option {
	return func(e *Expander) { e.dollarStyle = enabled }
}

// WithMustacheStyle enables or disables {{var}} expansion.
func WithMustacheStyle(enabled bool) Option {
	return func(e *Expander) { e.mustacheStyle = enabled }
}

// Expander expands variable patterns in strings.
// Safe for concurrent use after construction.
type Expander struct {
	missingAction MissingAction
	dollarStyle   bool
	mustacheStyle bool
}

// NewExpander creates a new Expander with the given options.
//
// Default configuration:
//   - MissingAction: MissingKeep (keep placeholders as-is)
//   - DollarStyle: enabled (${var}, $var)
//   - MustacheStyle: enabled ({{var}}, {{var.path}})
func NewExpander(opts ...Option) *Expander {
	e := &Expander{
		missingAction: MissingKeep,
		dollarStyle:   true,
		mustacheStyle: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand expands variable patterns in s using the provided vars.
//
// Errors are only returned when MissingAction is MissingError and a
// variable is not found.
func (e *Expander) Expand(s string, vars map[string]any) (string, error) {
	if s == "" {
		return "", nil
	}

	result := s
	var missingVars []string

	replace := func(match, varName string) string {
		if val, ok := lookup(varName, vars); ok {
			return fmt.Sprintf("%v", val)
		}
		switch e.missingAction {
		case MissingEmpty:
			return ""
		case MissingError:
			missingVars = append(missingVars, varName)
			return match
		default: // MissingKeep
			return match
		}
	}

	if e.mustacheStyle {
		result = mustachePattern.ReplaceAllStringFunc(result, func(match string) string {
			sub := mustachePattern.FindStringSubmatch(match)
			return replace(match, sub[1])
		})
	}

	if e.dollarStyle {
		// ${var} first (more specific), then $var.
		result = bracePattern.ReplaceAllStringFunc(result, func(match string) string {
			return replace(match, match[2:len(match)-1])
		})
		result = dollarPattern.ReplaceAllStringFunc(result, func(match string) string {
			return replace(match, match[1:])
		})
	}

	if len(missingVars) > 0 {
		return result, &UndefinedVariableError{Names: missingVars}
	}
	return result, nil
}

// MustExpand expands variable patterns in s and panics on error.
func (e *Expander) MustExpand(s string, vars map[string]any) string {
	result, err := e.Expand(s, vars)
	if err != nil {
		panic(fmt.Sprintf("template: %v", err))
	}
	return result
}

// ExpandMap expands variable patterns in all string values of a map
// recursively. Non-string values are copied as-is.
func (e *Expander) ExpandMap(m map[string]any, vars map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}

	result := make(map[string]any, len(m))
	for k, v := range m {
		expanded, err := e.expandValue(v, vars)
		if err != nil {
			return nil, err
		}
		result[k] = expanded
	}
	return result, nil
}

func (e *Expander) expandValue(v any, vars map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return e.Expand(val, vars)
	case map[string]any:
		return e.ExpandMap(val, vars)
	default:
		return v, nil
	}
}

// lookup resolves a variable name, walking dotted paths through nested
// maps.
func lookup(name string, vars map[string]any) (any, bool) {
	if vars == nil {
		return nil, false
	}
	if val, ok := vars[name]; ok {
		return val, true
	}
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return nil, false
	}
	var current any = vars
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// UndefinedVariableError is returned when MissingError is set and one or
// more variables are not found.
type UndefinedVariableError struct {
	// Names is the list of undefined variable names.
	Names []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}

// defaultExpander is the package-level expander with default settings.
var defaultExpander = NewExpander()

// Expand expands variable patterns in s using the default expander.
// Missing variables stay as-is.
func Expand(s string, vars map[string]any) string {
	result, _ := defaultExpander.Expand(s, vars)
	return result
}

// ExpandMap expands variable patterns in all string values using the
// default expander. Missing variables stay as-is.
func ExpandMap(m map[string]any, vars map[string]any) map[string]any {
	result, _ := defaultExpander.ExpandMap(m, vars)
	return result
}
