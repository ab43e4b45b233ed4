package events

import (
	"github.com/clinicware/payrail/internal/config"
	"github.com/clinicware/payrail/internal/events/repository"
	"github.com/clinicware/payrail/internal/events/service"
	"github.com/clinicware/payrail/internal/notify/email"
	"github.com/clinicware/payrail/internal/notify/slack"
	"go.uber.org/fx"
)

var Module = fx.Module("events.service",
	fx.Provide(repository.Provide),
	fx.Provide(provideSlack),
	fx.Provide(provideEmail),
	fx.Provide(service.New),
)

func provideSlack(cfg config.Config) *slack.Notifier {
	return slack.New(cfg.SlackWebhookURL)
}

func provideEmail(cfg config.Config) *email.Sender {
	return email.New(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
}
