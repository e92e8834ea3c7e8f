// Package reconciliation compares the router's position book against what
// each exchange reports and repairs drift.
package reconciliation

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/PiotrGNN/kraken/internal/state"
	"github.com/PiotrGNN/kraken/pkg/exchanges/common"
)

var log = logrus.WithField("component", "reconciliation")

// TaskName is the scheduler name of the periodic check.
const TaskName = "reconcile_positions"

const qtyTolerance = 1e-4

// Venue is the router surface reconciliation needs.
type Venue interface {
	Positions() []state.Position
	ExchangePosition(ctx context.Context, exchange, symbol string) (common.PositionInfo, error)
	// SyncPosition sets the local size of symbol; zero forgets it.
	SyncPosition(ctx context.Context, symbol string, size float64) bool
}

// Report is the outcome of one pass.
type Report struct {
	Timestamp   time.Time      `json:"timestamp"`
	Diffs       []PositionDiff `json:"diffs"`
	SyncedCount int            `json:"synced_count"`
}

// HasDiffs reports whether any symbol drifted.
func (r Report) HasDiffs() bool { return len(r.Diffs) > 0 }

// PositionDiff is one drifted symbol.
type PositionDiff struct {
	Symbol      string  `json:"symbol"`
	Exchange    string  `json:"exchange"`
	LocalQty    float64 `json:"local_qty"`
	ExchangeQty float64 `json:"exchange_qty"`
	Synced      bool    `json:"synced"`
}

// Service runs reconciliation passes.
type Service struct {
	venue Venue
	now   func() time.Time

	mu       sync.Mutex
	autoSync bool
	last     Report
}

// NewService creates a service with auto-sync enabled.
func NewService(venue Venue) *Service {
	return &Service{venue: venue, autoSync: true, now: time.Now}
}

// SetAutoSync toggles repairing drift.
func (s *Service) SetAutoSync(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoSync = enabled
	log.WithField("auto_sync", enabled).Info("reconciliation auto-sync changed")
}

// Last returns the latest report.
func (s *Service) Last() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Reconcile checks every booked position on its exchange. Exchanges that
// cannot be queried are skipped and reported in the error.
func (s *Service) Reconcile(ctx context.Context) (Report, error) {
	s.mu.Lock()
	autoSync := s.autoSync
	s.mu.Unlock()

	report := Report{Timestamp: s.now().UTC(), Diffs: []PositionDiff{}}
	var errs *multierror.Error

	for _, local := range s.venue.Positions() {
		remote, err := s.venue.ExchangePosition(ctx, local.Exchange, local.Symbol)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		remoteQty := math.Abs(remote.Size)
		if remote.Side != "" && remote.Side != local.Side {
			remoteQty = 0
		}
		if math.Abs(local.Size-remoteQty) <= qtyTolerance {
			continue
		}
		diff := PositionDiff{Symbol: local.Symbol, Exchange: local.Exchange, LocalQty: local.Size, ExchangeQty: remoteQty}
		if autoSync && s.venue.SyncPosition(ctx, local.Symbol, remoteQty) {
			diff.Synced = true
			report.SyncedCount++
		}
		log.WithFields(logrus.Fields{
			"symbol":   diff.Symbol,
			"exchange": diff.Exchange,
			"local":    diff.LocalQty,
			"remote":   diff.ExchangeQty,
			"synced":   diff.Synced,
		}).Warn("position drift detected")
		report.Diffs = append(report.Diffs, diff)
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report, errs.ErrorOrNil()
}

// Task adapts Reconcile to a periodic task.
func (s *Service) Task() func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := s.Reconcile(ctx)
		return err
	}
}
