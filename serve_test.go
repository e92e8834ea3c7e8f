package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiotrGNN/kraken/internal/scheduler"
)

func TestLogReportsStopsWithContext(t *testing.T) {
	reports := make(chan scheduler.Report, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		logReports(ctx, reports)
		close(done)
	}()

	reports <- scheduler.Report{Task: "reconcile_positions", Time: time.Now(), Err: errors.New("boom")}
	require.Eventually(t, func() bool { return len(reports) == 0 }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		assert.Fail(t, "logReports did not return after cancel")
	}
}

