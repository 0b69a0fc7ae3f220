// Package worker runs the periodic background jobs: sweeping stale M-Pesa
// payments and flagging overdue subscription invoices.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"smartduka/backend/internal/logger"
)

// Job does one pass of work and reports how many records it touched.
type Job func(ctx context.Context) (int, error)

type Periodic struct {
	name     string
	interval time.Duration
	job      Job
	log      *logrus.Entry
}

func NewPeriodic(name string, interval time.Duration, job Job) *Periodic {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Periodic{
		name:     name,
		interval: interval,
		job:      job,
		log:      logger.For("worker").WithField("job", name),
	}
}

func (p *Periodic) Name() string { return p.name }

// Start blocks until ctx is cancelled, running the job once per interval.
func (p *Periodic) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.WithField("interval", p.interval.String()).Info("worker started")
	for {
		select {
		case <-ctx.Done():
			p.log.Info("worker stopped")
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Periodic) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("panic", r).Error("worker pass panicked, retrying next tick")
		}
	}()

	n, err := p.job(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.WithError(err).Error("worker pass failed")
		}
		return
	}
	if n > 0 {
		p.log.WithField("count", n).Info("worker pass done")
	}
}

type PaymentSweeper interface {
	SweepPendingPayments(ctx context.Context) (int, error)
}

type InvoiceMarker interface {
	MarkOverdueInvoices(ctx context.Context) (int, error)
}

// Standard returns the payment sweeper and the overdue-invoice marker. The
// invoice check runs far less often than the sweep.
func Standard(sweeper PaymentSweeper, invoices InvoiceMarker, interval time.Duration) []*Periodic {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return []*Periodic{
		NewPeriodic("mpesa-sweep", interval, sweeper.SweepPendingPayments),
		NewPeriodic("invoice-overdue", 60*interval, invoices.MarkOverdueInvoices),
	}
}

// RunAll starts every worker and returns a wait func that blocks until all
// of them have stopped.
func RunAll(ctx context.Context, workers ...*Periodic) (wait func()) {
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Periodic) {
			defer wg.Done()
			w.Start(ctx)
		}(w)
	}
	return wg.Wait
}
