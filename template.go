package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TemplateContext maps placeholder names to their rendered values.
type TemplateContext map[string]string

type TemplateError struct {
	Key string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("Invalid placeholder '%s'", e.Key)
}

// Render substitutes every {name} placeholder in body with ctx[name].
//
// The body is scanned once from left to right, substituted values are never
// scanned again. "{{" and "}}" produce literal braces and a brace that does not
// open a well formed placeholder is copied as is.
func Render(body string, ctx TemplateContext) (string, error) {
	out := &strings.Builder{}
	out.Grow(len(body))

	for i := 0; i < len(body); {
		c := body[i]

		switch {
		case c == '{' && i+1 < len(body) && body[i+1] == '{':
			out.WriteByte('{')
			i += 2

		case c == '}' && i+1 < len(body) && body[i+1] == '}':
			out.WriteByte('}')
			i += 2

		case c == '{':
			name, end, ok := scanPlaceholder(body, i)
			if !ok {
				out.WriteByte(c)
				i++
				continue
			}

			value, found := ctx[name]
			if !found {
				return "", &TemplateError{Key: name}
			}

			out.WriteString(value)
			i = end

		default:
			out.WriteByte(c)
			i++
		}
	}

	return out.String(), nil
}

// Placeholders returns the placeholder names used by body in order of first appearance.
func Placeholders(body string) []string {
	var names []string
	seen := map[string]bool{}

	for i := 0; i < len(body); i++ {
		if body[i] != '{' {
			continue
		}

		if i+1 < len(body) && body[i+1] == '{' {
			i++
			continue
		}

		name, end, ok := scanPlaceholder(body, i)
		if !ok {
			continue
		}

		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}

		i = end - 1
	}

	return names
}

// Preview renders body against a sample context. Errors are returned inline
// so operators see them next to the template they are editing.
func Preview(body string, sample TemplateContext) string {
	if body == "" {
		return ""
	}

	out, err := Render(body, sample)
	if err != nil {
		return "Error in template: " + err.Error()
	}

	return out
}

// scanPlaceholder reads an identifier placeholder starting at the '{' at
// position start and returns the name and the index right after the '}'.
func scanPlaceholder(body string, start int) (string, int, bool) {
	i := start + 1
	if i >= len(body) || !isIdentStart(body[i]) {
		return "", 0, false
	}

	for i < len(body) && isIdentPart(body[i]) {
		i++
	}

	if i >= len(body) || body[i] != '}' {
		return "", 0, false
	}

	return body[start+1 : i], i + 1, true
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// Template is a reusable message body operators pick from when composing a job.
type Template struct {
	Id uuid.UUID `sql:",pk,type:uuid" json:"id"`

	Name    string  `sql:",notnull" json:"name"`
	Channel Channel `sql:",notnull" json:"channel"`
	Body    string  `sql:",notnull" json:"body"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type TemplateCriteria struct {
	Name    string
	Channel Channel

	Offset int
	Limit  int
}
