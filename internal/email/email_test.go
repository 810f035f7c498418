package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateManager_RendersNotification(t *testing.T) {
	tm := NewTemplateManager()
	html, err := tm.Render(TemplateNotification, TemplateData{
		"Name":    "Thandi",
		"Title":   "Payment released",
		"Message": "R 1 035,00 is on its way",
	})
	require.NoError(t, err)
	assert.Contains(t, html, "Payment released")
	assert.NotContains(t, html, "Open in TrustWork")
}

func TestTemplateManager_UnknownTemplate(t *testing.T) {
	_, err := NewTemplateManager().Render("missing", nil)
	assert.Error(t, err)
}

func TestSMTPProvider_Validate(t *testing.T) {
	p := NewSMTPProvider(&SMTPConfig{Host: "smtp.example.com", Port: 0}, nil)
	assert.Error(t, p.Validate())

	p = NewSMTPProvider(&SMTPConfig{Host: "smtp.example.com", Port: 587, FromEmail: "no-reply@example.com"}, nil)
	assert.NoError(t, p.Validate())
}

func TestRecordingProvider(t *testing.T) {
	p := NewRecordingProvider()
	require.NoError(t, p.SendTemplate([]string{"a@example.com"}, "Hi", TemplateNotification, TemplateData{"Title": "x"}))
	sent := p.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"a@example.com"}, sent[0].To)
}
