package notificationq

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/config"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/invoicing/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler consumes a due notification.
type Handler interface {
	HandleNotification(ctx context.Context, n domain.QueuedNotification) error
}

type PollerParams struct {
	fx.In

	Store   *Store
	Handler Handler
	Config  *config.InvoiceConfigHolder
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *obsmetrics.InvoiceMetrics `optional:"true"`
}

// Poller periodically claims due notifications and hands them to the Handler. Notifications of
// one account are processed sequentially; accounts are processed concurrently.
type Poller struct {
	store       *Store
	handler     Handler
	cfg         *config.InvoiceConfigHolder
	clock       clock.Clock
	log         *zap.Logger
	metrics     *obsmetrics.InvoiceMetrics
	concurrency int
}

func NewPoller(p PollerParams) (*Poller, error) {
	if p.Store == nil || p.Handler == nil || p.Config == nil || p.Clock == nil || p.Log == nil {
		return nil, domain.ErrInvalidConfig
	}
	return &Poller{
		store:       p.Store,
		handler:     p.Handler,
		cfg:         p.Config,
		clock:       p.Clock,
		log:         p.Log.Named("notificationq.poller"),
		metrics:     p.Metrics,
		concurrency: 4,
	}, nil
}

// RunOnce processes one batch of due notifications.
func (p *Poller) RunOnce(ctx context.Context) error {
	cfg := p.cfg.Get()
	due, err := p.store.ClaimDue(ctx, p.clock.Now(), cfg.NotificationBatchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	byAccount := map[snowflake.ID][]domain.QueuedNotification{}
	order := make([]snowflake.ID, 0)
	for _, n := range due {
		if _, ok := byAccount[n.AccountID]; !ok {
			order = append(order, n.AccountID)
		}
		byAccount[n.AccountID] = append(byAccount[n.AccountID], n)
	}

	var (
		mu     sync.Mutex
		runErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, accountID := range order {
		batch := byAccount[accountID]
		g.Go(func() error {
			for _, n := range batch {
				if err := p.process(gctx, n); err != nil {
					mu.Lock()
					runErr = errors.Join(runErr, err)
					mu.Unlock()
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return runErr
}

func (p *Poller) process(ctx context.Context, n domain.QueuedNotification) error {
	handleErr := p.handler.HandleNotification(ctx, n)
	outcome := "processed"
	if handleErr != nil {
		outcome = "failed"
		p.log.Warn("notificationq.handle_failed",
			zap.String("account_id", n.AccountID.String()),
			zap.String("queue", n.Queue),
			zap.Time("effective_date", n.EffectiveDate),
			zap.Error(handleErr),
		)
	}
	p.metrics.IncNotification(n.Queue, outcome)

	if err := p.store.Complete(ctx, n.ID, handleErr); err != nil {
		return errors.Join(handleErr, err)
	}
	return handleErr
}

func (p *Poller) RunForever(ctx context.Context) {
	interval := p.cfg.Get().NotificationPollInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := p.RunOnce(ctx); err != nil {
			p.log.Warn("notificationq.run_failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
