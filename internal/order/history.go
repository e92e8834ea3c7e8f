package order

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/PiotrGNN/kraken/pkg/db"
	"github.com/PiotrGNN/kraken/pkg/exchanges/common"
)

var log = logrus.WithField("component", "order")

// History is the append-only order audit trail. It keeps every record in
// memory and mirrors it to the database when one is attached. Callers
// serialize access (the router holds its own lock).
type History struct {
	records []Record
	loaded  int // records restored from the database, oldest first
	db      *db.Database
	now     func() time.Time
}

// NewHistory creates a history; database may be nil.
func NewHistory(database *db.Database) *History {
	return &History{db: database, now: time.Now}
}

// Append stamps r with an ID and timestamp when missing, stores it and
// returns the stored copy. Persistence failures are logged, not returned:
// the in-memory trail is authoritative for the running process.
func (h *History) Append(ctx context.Context, r Record) Record {
	if r.Timestamp.IsZero() {
		r.Timestamp = h.now().UTC()
	}
	if r.ID == "" {
		r.ID = NewID(r.Timestamp)
	}
	h.records = append(h.records, r)

	if h.db != nil {
		row, err := toRow(r)
		if err == nil {
			err = h.db.InsertOrderRecord(ctx, row)
		}
		if err != nil {
			log.WithError(err).WithField("record_id", r.ID).Warn("persist order record failed")
		}
	}
	return r
}

// Load restores up to limit persisted records so Recent spans restarts.
// Restored records do not count towards Len. It must run before the
// first Append.
func (h *History) Load(ctx context.Context, limit int) error {
	if h.db == nil {
		return nil
	}
	rows, err := h.db.ListOrderRecords(ctx, limit)
	if err != nil {
		return err
	}
	restored := make([]Record, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r, err := fromRow(rows[i])
		if err != nil {
			log.WithError(err).WithField("record_id", rows[i].ID).Warn("skipping unreadable order record")
			continue
		}
		restored = append(restored, r)
	}
	h.records = append(restored, h.records...)
	h.loaded = len(restored)
	log.WithField("records", h.loaded).Info("order history restored")
	return nil
}

// Len is the number of records written during this process.
func (h *History) Len() int { return len(h.records) - h.loaded }

// Recent returns up to n records, newest first. n <= 0 returns all.
func (h *History) Recent(n int) []Record {
	if n <= 0 || n > len(h.records) {
		n = len(h.records)
	}
	out := make([]Record, 0, n)
	for i := len(h.records) - 1; i >= len(h.records)-n; i-- {
		out = append(out, h.records[i])
	}
	return out
}

func toRow(r Record) (db.OrderRecord, error) {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return db.OrderRecord{}, err
	}
	row := db.OrderRecord{
		ID:          r.ID,
		Timestamp:   r.Timestamp,
		Environment: r.Environment,
		Exchange:    r.Exchange,
		OrderID:     r.OrderID,
		Type:        string(r.Kind),
		Status:      string(r.Status),
		Failover:    r.Failover,
		Params:      string(params),
		Error:       r.Error,
	}
	if r.Response != nil {
		resp, err := json.Marshal(r.Response)
		if err != nil {
			return db.OrderRecord{}, err
		}
		row.Response = string(resp)
	}
	return row, nil
}

func fromRow(row db.OrderRecord) (Record, error) {
	r := Record{
		ID:          row.ID,
		Timestamp:   row.Timestamp,
		Environment: row.Environment,
		Exchange:    row.Exchange,
		OrderID:     row.OrderID,
		Kind:        Kind(row.Type),
		Status:      Status(row.Status),
		Failover:    row.Failover,
		Error:       row.Error,
	}
	if row.Params != "" {
		if err := json.Unmarshal([]byte(row.Params), &r.Params); err != nil {
			return Record{}, err
		}
	}
	if row.Response != "" {
		var info common.OrderInfo
		if err := json.Unmarshal([]byte(row.Response), &info); err != nil {
			return Record{}, err
		}
		r.Response = &info
	}
	return r, nil
}
