package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	ctx := TemplateContext{"name": "Alice", "order": "S1", "raw": "{name}"}

	cases := []struct {
		body     string
		expected string
	}{
		{"Hello {name}", "Hello Alice"},
		{"{name}{order}", "AliceS1"},
		{"{{name}} is literal", "{name} is literal"},
		{"closing }} brace", "closing } brace"},
		{"value {raw} is not rescanned", "value {name} is not rescanned"},
		{"unbalanced { brace", "unbalanced { brace"},
		{"bad {1name} ident", "bad {1name} ident"},
		{"space {na me}", "space {na me}"},
		{"trailing {", "trailing {"},
		{"lone } brace", "lone } brace"},
		{"", ""},
	}

	for _, c := range cases {
		out, err := Render(c.body, ctx)
		assert.NoError(t, err, c.body)
		assert.Equal(t, c.expected, out, c.body)
	}
}

func TestRenderMissingKey(t *testing.T) {
	_, err := Render("Hello {name}, {missing}", TemplateContext{"name": "Alice"})

	terr, ok := err.(*TemplateError)
	if assert.True(t, ok) {
		assert.Equal(t, "missing", terr.Key)
		assert.Equal(t, "Invalid placeholder 'missing'", terr.Error())
	}
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"a", "b_2"}, Placeholders("{a} {b_2} {a} {{c}} {9}"))
	assert.Nil(t, Placeholders("plain text"))
}

func TestPreviewInline(t *testing.T) {
	assert.Equal(t, "", Preview("", OrderSampleContext()))
	assert.Equal(t, "Hi John Doe", Preview("Hi {partner_name}", OrderSampleContext()))
	assert.Equal(t, "Error in template: Invalid placeholder 'carrier'", Preview("{carrier}", OrderSampleContext()))
}
