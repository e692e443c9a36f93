// Package alert delivers operator notifications for financial failures that
// require a human: failed mint cycles and bridge transfers whose refund leg
// could not be completed. Delivery is best-effort; a failure to notify never
// blocks the engine, but it is always logged.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/particlerush/tokenengine/engine/pkg/metrics"
)

// Notifier is the operator channel consumed by the scheduler and services.
type Notifier interface {
	Notify(ctx context.Context, title, detail string)
}

type SlackConfig struct {
	Logger   *slog.Logger
	BotToken string
	Channel  string
}

func (cfg *SlackConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BotToken == "" {
		return errors.New("bot token is required")
	}
	if cfg.Channel == "" {
		return errors.New("channel is required")
	}
	return nil
}

// SlackNotifier posts alerts to a Slack channel.
type SlackNotifier struct {
	log *slog.Logger
	cfg SlackConfig
	api *slack.Client
}

func NewSlackNotifier(cfg SlackConfig) (*SlackNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SlackNotifier{
		log: cfg.Logger,
		cfg: cfg,
		api: slack.New(cfg.BotToken),
	}, nil
}

func (n *SlackNotifier) Notify(ctx context.Context, title, detail string) {
	text := fmt.Sprintf(":rotating_light: *%s*\n%s", title, detail)
	_, _, err := n.api.PostMessageContext(ctx, n.cfg.Channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		metrics.OperatorAlertsTotal.WithLabelValues("error").Inc()
		n.log.Error("alert: failed to post to slack", "title", title, "error", err)
		return
	}
	metrics.OperatorAlertsTotal.WithLabelValues("ok").Inc()
	n.log.Info("alert: posted to slack", "title", title)
}

// LogNotifier is the fallback operator channel when Slack is not configured:
// alerts land in the engine log at error level so they are never silently
// dropped.
type LogNotifier struct {
	Log *slog.Logger
}

func (n *LogNotifier) Notify(_ context.Context, title, detail string) {
	metrics.OperatorAlertsTotal.WithLabelValues("log").Inc()
	n.Log.Error("operator alert", "title", title, "detail", detail)
}
