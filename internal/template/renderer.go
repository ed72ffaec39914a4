// Package template renders {{name}} variable slots in message templates.
//
// Substitution is a single left-to-right pass over the template text:
// substituted values are never re-expanded, and tokens whose variable is
// absent stay in the output verbatim.
package template

import (
	"fmt"
	"regexp"

	"github.com/notifyhub/dispatch/internal/domain"
)

var tokenPattern = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// Rendered is the outcome of applying variables to a template.
type Rendered struct {
	Subject string
	Body    string
}

// Render substitutes vars into the template's subject and body.
func Render(t *domain.MessageTemplate, vars map[string]string) Rendered {
	return Rendered{
		Subject: Substitute(t.SubjectTemplate, vars),
		Body:    Substitute(t.BodyTemplate, vars),
	}
}

// Substitute replaces every {{name}} token in text with vars[name].
// Missing variables leave the token untouched.
func Substitute(text string, vars map[string]string) string {
	if text == "" || len(vars) == 0 {
		return text
	}
	return tokenPattern.ReplaceAllStringFunc(text, func(token string) string {
		name := token[2 : len(token)-2]
		if val, ok := vars[name]; ok {
			return val
		}
		return token
	})
}

// Validate checks that every variable the template declares as required is
// present in vars. It returns ErrInvalidTemplateArgs listing the first
// missing name.
func Validate(t *domain.MessageTemplate, vars map[string]string) error {
	for _, name := range t.Variables {
		if _, ok := vars[name]; !ok {
			return &domain.Error{
				Code:    domain.ErrInvalidTemplateArgs.Code,
				Message: fmt.Sprintf("missing required template variable %q", name),
			}
		}
	}
	return nil
}
