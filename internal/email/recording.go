package email

import (
	"sync"
)

// RecordingProvider запоминает письма вместо отправки.
// Используется, когда email выключен, и в тестах.
type RecordingProvider struct {
	renderer TemplateRenderer
	Err      error

	mu   sync.Mutex
	sent []Email
}

func NewRecordingProvider() *RecordingProvider {
	return &RecordingProvider{renderer: NewTemplateManager()}
}

func (p *RecordingProvider) Send(email *Email) error {
	if p.Err != nil {
		return p.Err
	}
	p.mu.Lock()
	p.sent = append(p.sent, *email)
	p.mu.Unlock()
	return nil
}

func (p *RecordingProvider) SendTemplate(to []string, subject string, templateName string, data TemplateData) error {
	html, err := p.renderer.Render(templateName, data)
	if err != nil {
		return err
	}
	return p.Send(&Email{To: to, Subject: subject, HTMLBody: html})
}

func (p *RecordingProvider) Validate() error { return nil }

// Sent возвращает копию отправленных писем
func (p *RecordingProvider) Sent() []Email {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Email(nil), p.sent...)
}
