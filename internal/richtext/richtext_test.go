package richtext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	r := New()

	out := r.Sanitize(`<p onclick="x()">Steps <b>to</b> reproduce<script>alert(1)</script></p>`)
	assert.Equal(t, `<p>Steps <b>to</b> reproduce</p>`, out)
}

func TestMarkdown(t *testing.T) {
	r := New()

	out, err := r.Markdown("**fixed** in `v2`\n<img src=x onerror=alert(1)>")
	require.NoError(t, err)
	assert.Contains(t, out, "<strong>fixed</strong>")
	assert.Contains(t, out, "<code>v2</code>")
	assert.NotContains(t, out, "onerror")
}
