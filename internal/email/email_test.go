package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEscapesValues(t *testing.T) {
	body, err := render("feedback-received.html", map[string]string{
		"name":         "Ana",
		"giver_name":   "Anonymous",
		"title":        "<script>alert(1)</script>",
		"feedback_url": "https://app.example.com/feedbacks/1",
	})
	require.NoError(t, err)

	assert.Contains(t, body, "Hi Ana")
	assert.Contains(t, body, "&lt;script&gt;")
	assert.NotContains(t, body, "<script>")
	assert.NotContains(t, body, "{title}")
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, err := render("missing.html", nil)
	assert.Error(t, err)
}

func TestNilClientSkipsSending(t *testing.T) {
	var c *ResendEmailClient
	assert.NotPanics(t, func() { c.SendAsync("a@example.com", "subject", "body") })
}
