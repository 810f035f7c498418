package app

import (
	"trustwork_backend/internal/config"
	"trustwork_backend/internal/email"
	"trustwork_backend/internal/logger"
)

// logEmailProvider используется для локальной разработки, когда SMTP выключен:
// письма только пишутся в лог.
type logEmailProvider struct{}

func (logEmailProvider) Send(e *email.Email) error {
	logger.Info("Email suppressed (SMTP disabled)", "to", e.To, "subject", e.Subject)
	return nil
}

func (logEmailProvider) SendTemplate(to []string, subject string, templateName string, data email.TemplateData) error {
	logger.Info("Template email suppressed (SMTP disabled)", "to", to, "subject", subject, "template", templateName)
	return nil
}

func (logEmailProvider) Validate() error { return nil }

// newMailer выбирает SMTP или логирующего провайдера
func newMailer(cfg *config.Config) email.Provider {
	if !cfg.Email.Enabled {
		logger.Warn("Email delivery disabled, messages will only be logged")
		return logEmailProvider{}
	}
	provider := email.NewSMTPProvider(email.FromAppConfig(cfg), email.NewTemplateManager())
	if err := provider.Validate(); err != nil {
		logger.Error("SMTP configuration invalid, falling back to log provider", "error", err)
		return logEmailProvider{}
	}
	return provider
}
