package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJobs struct {
	sweeps   atomic.Int32
	overdue  atomic.Int32
	sweepErr error
}

func (c *countingJobs) SweepPendingPayments(context.Context) (int, error) {
	c.sweeps.Add(1)
	return 1, c.sweepErr
}

func (c *countingJobs) MarkOverdueInvoices(context.Context) (int, error) {
	c.overdue.Add(1)
	return 0, nil
}

func TestPeriodicRunsUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	p := NewPeriodic("tick", 5*time.Millisecond, func(context.Context) (int, error) {
		calls.Add(1)
		return 0, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	wait := RunAll(ctx, p)

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	wait()

	stopped := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load(), "job ran after stop")
}

func TestPeriodicSurvivesErrorsAndPanics(t *testing.T) {
	var calls atomic.Int32
	p := NewPeriodic("flaky", 5*time.Millisecond, func(context.Context) (int, error) {
		n := calls.Add(1)
		if n == 1 {
			panic("boom")
		}
		return 0, errors.New("daraja unreachable")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wait := RunAll(ctx, p)

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	wait()
}

func TestStandardWiresBothJobs(t *testing.T) {
	jobs := &countingJobs{sweepErr: errors.New("query failed")}
	workers := Standard(jobs, jobs, 2*time.Millisecond)
	require.Len(t, workers, 2)
	assert.Equal(t, "mpesa-sweep", workers[0].Name())
	assert.Equal(t, "invoice-overdue", workers[1].Name())

	ctx, cancel := context.WithCancel(context.Background())
	wait := RunAll(ctx, workers...)

	require.Eventually(t, func() bool { return jobs.overdue.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	wait()
	assert.Greater(t, jobs.sweeps.Load(), jobs.overdue.Load())
}

func TestNewPeriodicDefaultsInterval(t *testing.T) {
	p := NewPeriodic("default", 0, func(context.Context) (int, error) { return 0, nil })
	assert.Equal(t, time.Minute, p.interval)
}
