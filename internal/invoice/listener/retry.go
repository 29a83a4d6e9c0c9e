package listener

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/smallbiznis/invoicing/internal/config"
	"github.com/smallbiznis/invoicing/internal/eventbus"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"go.uber.org/zap"
)

// RetrySubscriber retries transient handler failures with exponential backoff. Permanent failures
// and exhausted retries are returned once so the caller can drop the event.
type RetrySubscriber struct {
	cfg *config.InvoiceConfigHolder
	log *zap.Logger
}

func NewRetrySubscriber(cfg *config.InvoiceConfigHolder, log *zap.Logger) (*RetrySubscriber, error) {
	if cfg == nil || log == nil {
		return nil, domain.ErrInvalidConfig
	}
	return &RetrySubscriber{cfg: cfg, log: log.Named("invoice.listener.retry")}, nil
}

func (r *RetrySubscriber) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	cfg := r.cfg.Get()
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.ListenerInitialBackoff
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(cfg.ListenerMaxRetries)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return backoff.Permanent(err)
		}
		r.log.Warn("invoice.listener.retrying",
			zap.String("event", name),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	}, policy)
}

// IsPermanent reports errors a retry cannot fix.
func IsPermanent(err error) bool {
	return errors.Is(err, domain.ErrUnexpected) ||
		errors.Is(err, domain.ErrInvalidDryRunArguments) ||
		errors.Is(err, domain.ErrInvalidPluginItem) ||
		errors.Is(err, eventbus.ErrUnknownEventType)
}
