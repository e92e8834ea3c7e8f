package common

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TimeSync keeps the offset between local and exchange server clocks so
// signed requests stay inside the venue's receive window.
type TimeSync struct {
	name          string
	getServerTime func(ctx context.Context) (int64, error)
	offset        int64 // milliseconds offset (server - local)
	lastSync      time.Time
	syncInterval  time.Duration
	mu            sync.RWMutex
}

// NewTimeSync creates a new time synchronization manager.
func NewTimeSync(name string, getServerTime func(ctx context.Context) (int64, error)) *TimeSync {
	return &TimeSync{
		name:          name,
		getServerTime: getServerTime,
		syncInterval:  30 * time.Minute,
	}
}

// Start syncs once and then periodically until ctx is done.
func (ts *TimeSync) Start(ctx context.Context) {
	log := logrus.WithFields(logrus.Fields{"component": "timesync", "exchange": ts.name})
	if err := ts.Sync(ctx); err != nil {
		log.WithError(err).Warn("initial time sync failed")
	}

	go func() {
		ticker := time.NewTicker(ts.syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ts.Sync(ctx); err != nil {
					log.WithError(err).Warn("time sync failed")
				}
			}
		}
	}()
}

// Sync synchronizes with server time.
func (ts *TimeSync) Sync(ctx context.Context) error {
	localBefore := time.Now().UnixMilli()
	serverTime, err := ts.getServerTime(ctx)
	if err != nil {
		return err
	}
	localAfter := time.Now().UnixMilli()

	// Assume network latency is symmetric
	localTime := localBefore + (localAfter-localBefore)/2

	ts.mu.Lock()
	ts.offset = serverTime - localTime
	ts.lastSync = time.Now()
	ts.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"component": "timesync",
		"exchange":  ts.name,
		"offset_ms": serverTime - localTime,
	}).Debug("time synced")
	return nil
}

// Now returns current unix milliseconds adjusted for server offset.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

// Offset returns the current time offset in milliseconds.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
