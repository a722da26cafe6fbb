// Package adherence records dose outcomes and derives day status, streaks
// and adherence percentages from them.
package adherence

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/gmsas95/dosewise/internal/errors"
	"github.com/gmsas95/dosewise/internal/keylock"
	"github.com/gmsas95/dosewise/internal/kv"
	"github.com/gmsas95/dosewise/internal/metrics"
	"github.com/gmsas95/dosewise/internal/model"
)

// Ledger is the authoritative record of dose outcomes. Each
// (medicine, date, HH:MM) holds at most one record; later writes replace it.
type Ledger struct {
	store   kv.Store
	loc     *time.Location
	logger  *zap.Logger
	metrics *metrics.Metrics
	locks   *keylock.Map
	now     func() time.Time
}

// NewLedger creates a ledger whose time inputs are read in loc
func NewLedger(store kv.Store, loc *time.Location, logger *zap.Logger) *Ledger {
	if loc == nil {
		loc = time.Local
	}
	return &Ledger{
		store:   store,
		loc:     loc,
		logger:  logger,
		metrics: metrics.Default(),
		locks:   keylock.New(),
		now:     time.Now,
	}
}

func (l *Ledger) WithMetrics(m *metrics.Metrics) *Ledger {
	l.metrics = m
	return l
}

// WithClock sets the clock used to stamp RecordedAt
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Location is the user zone the ledger normalizes into
func (l *Ledger) Location() *time.Location {
	return l.loc
}

// Key resolves the ledger key for a dose, normalizing the time input
func (l *Ledger) Key(medicineID, date string, at TimeInput) (string, error) {
	clock, err := l.resolve(medicineID, date, at)
	if err != nil {
		return "", err
	}
	return model.RecordKey(medicineID, date, clock), nil
}

func (l *Ledger) resolve(medicineID, date string, at TimeInput) (string, error) {
	if medicineID == "" {
		return "", apperrors.Detail(apperrors.ErrBadRequest, "medicine id is required")
	}
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return "", apperrors.Detail(apperrors.ErrInvalidDate, "%q is not YYYY-MM-DD", date)
	}
	return Normalize(at, l.loc)
}

// SetTaken overwrites the record for the dose with a fresh RecordedAt
func (l *Ledger) SetTaken(ctx context.Context, medicineID, date string, at TimeInput, taken bool) (*model.AdherenceRecord, error) {
	clock, err := l.resolve(medicineID, date, at)
	if err != nil {
		return nil, err
	}
	key := model.RecordKey(medicineID, date, clock)

	unlock := l.locks.Lock(key)
	defer unlock()

	return l.write(ctx, medicineID, date, clock, taken)
}

// Toggle flips the recorded outcome of a dose under the key lock. An
// unrecorded dose becomes taken.
func (l *Ledger) Toggle(ctx context.Context, medicineID, date string, at TimeInput) (*model.AdherenceRecord, error) {
	clock, err := l.resolve(medicineID, date, at)
	if err != nil {
		return nil, err
	}
	key := model.RecordKey(medicineID, date, clock)

	unlock := l.locks.Lock(key)
	defer unlock()

	rec, _ := l.get(ctx, key)
	return l.write(ctx, medicineID, date, clock, !rec.Taken)
}

// write stores one record; callers hold the key lock
func (l *Ledger) write(ctx context.Context, medicineID, date, clock string, taken bool) (*model.AdherenceRecord, error) {
	rec := model.AdherenceRecord{
		MedicineID: medicineID,
		Date:       date,
		TimeOfDay:  clock,
		Taken:      taken,
		RecordedAt: l.now(),
	}
	key := rec.Key()

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal.Code, "failed to encode adherence record")
	}
	if err := l.store.Set(ctx, kv.AdherencePrefix+key, data); err != nil {
		l.logger.Error("Failed to write adherence record", zap.String("key", key), zap.Error(err))
		return nil, apperrors.Wrap(err, apperrors.ErrStorage.Code, "failed to write adherence record")
	}

	l.metrics.RecordDose(taken)
	l.logger.Debug("Dose recorded", zap.String("key", key), zap.Bool("taken", taken))
	return &rec, nil
}

// RecordDose satisfies the reminder scheduler's recorder with an HH:MM clock
func (l *Ledger) RecordDose(ctx context.Context, medicineID, date, timeOfDay string, taken bool) error {
	_, err := l.SetTaken(ctx, medicineID, date, Clock(timeOfDay), taken)
	return err
}

// GetTaken returns the recorded outcome. known is false when nothing was
// recorded or the record could not be read.
func (l *Ledger) GetTaken(ctx context.Context, medicineID, date string, at TimeInput) (taken bool, known bool, err error) {
	key, err := l.Key(medicineID, date, at)
	if err != nil {
		return false, false, err
	}

	rec, ok := l.get(ctx, key)
	if !ok {
		return false, false, nil
	}
	return rec.Taken, true, nil
}

// Records returns every record whose date lies in [start, end], ordered by
// date, time and medicine. An empty bound is open.
func (l *Ledger) Records(ctx context.Context, start, end string) []model.AdherenceRecord {
	return filterRange(l.all(ctx), start, end)
}

// RecordsOn returns the records of one date
func (l *Ledger) RecordsOn(ctx context.Context, date string) []model.AdherenceRecord {
	return l.Records(ctx, date, date)
}

func (l *Ledger) get(ctx context.Context, key string) (model.AdherenceRecord, bool) {
	var rec model.AdherenceRecord

	raw, err := l.store.Get(ctx, kv.AdherencePrefix+key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			l.readFailed("Failed to read adherence record", err)
		}
		return rec, false
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		l.readFailed("Corrupt adherence record "+key, err)
		return rec, false
	}
	return rec, true
}

func (l *Ledger) all(ctx context.Context) []model.AdherenceRecord {
	entries, err := l.store.Scan(ctx, kv.AdherencePrefix)
	if err != nil {
		l.readFailed("Failed to scan adherence records", err)
		return []model.AdherenceRecord{}
	}

	out := make([]model.AdherenceRecord, 0, len(entries))
	for key, raw := range entries {
		var rec model.AdherenceRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			l.readFailed("Corrupt adherence record "+strings.TrimPrefix(key, kv.AdherencePrefix), err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (l *Ledger) readFailed(msg string, err error) {
	l.metrics.RecordStoreReadFailure()
	l.logger.Warn(msg, zap.Error(err))
}

// filterRange keeps records in [start, end] and sorts them. Dates are
// YYYY-MM-DD so string order is calendar order.
func filterRange(records []model.AdherenceRecord, start, end string) []model.AdherenceRecord {
	out := make([]model.AdherenceRecord, 0, len(records))
	for _, r := range records {
		if start != "" && r.Date < start {
			continue
		}
		if end != "" && r.Date > end {
			continue
		}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].TimeOfDay != out[j].TimeOfDay {
			return out[i].TimeOfDay < out[j].TimeOfDay
		}
		return out[i].MedicineID < out[j].MedicineID
	})
	return out
}
