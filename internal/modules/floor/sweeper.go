// README: Wait-time sweeper: raises ALARM on tables whose orders wait too long.
package floor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"floortwin/internal/modules/order"
	"floortwin/internal/modules/table"
	"floortwin/internal/types"
)

const (
	DefaultSweepInterval = time.Minute
	DefaultWaitThreshold = 15 * time.Minute
)

type SweepOptions struct {
	// Threshold defaults to DefaultWaitThreshold.
	Threshold time.Duration
	// Now defaults to the service clock.
	Now     time.Time
	VenueID types.ID
	DryRun  bool
}

type AlarmOutcome string

const (
	AlarmRaised        AlarmOutcome = "raised"
	AlarmAlreadyRaised AlarmOutcome = "already_alarmed"
	AlarmSkipped       AlarmOutcome = "skipped"
	AlarmWouldRaise    AlarmOutcome = "would_raise"
	AlarmFailed        AlarmOutcome = "failed"
)

// TableAlarm is the sweep result for one table with overdue orders.
type TableAlarm struct {
	TableID       types.ID      `json:"table_id"`
	VenueID       types.ID      `json:"venue_id"`
	MaxWait       time.Duration `json:"max_wait"`
	OrderCount    int           `json:"order_count"`
	PreviousState table.State   `json:"previous_state,omitempty"`
	Outcome       AlarmOutcome  `json:"outcome"`
	Err           string        `json:"error,omitempty"`
}

// WaitMinutes is MaxWait in whole minutes.
func (a TableAlarm) WaitMinutes() int {
	return int(a.MaxWait / time.Minute)
}

type SweepReport struct {
	StartedAt      time.Time    `json:"started_at"`
	Threshold      string       `json:"threshold"`
	DryRun         bool         `json:"dry_run"`
	StaleOrders    int          `json:"stale_orders"`
	Raised         int          `json:"raised"`
	WouldRaise     int          `json:"would_raise"`
	AlreadyAlarmed int          `json:"already_alarmed"`
	Skipped        int          `json:"skipped"`
	Failed         int          `json:"failed"`
	Tables         []TableAlarm `json:"tables"`
}

// Sweep finds orders still PLACED or PREPARING longer than the threshold and
// moves their tables to ALARM. A table already in ALARM is left alone, so
// repeated sweeps emit nothing new. Failures on one table are recorded and
// the sweep moves on.
func (s *Service) Sweep(ctx context.Context, opts SweepOptions) (*SweepReport, error) {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultWaitThreshold
	}
	now := opts.Now
	if now.IsZero() {
		now = s.now()
	}
	cutoff := now.Add(-opts.Threshold)

	stale, err := s.repo.ListStaleOrders(ctx, order.WaitingStatuses, cutoff, opts.VenueID)
	if err != nil {
		return nil, err
	}

	report := &SweepReport{
		StartedAt:   now,
		Threshold:   opts.Threshold.String(),
		DryRun:      opts.DryRun,
		StaleOrders: len(stale),
	}

	var tableIDs []types.ID
	byTable := make(map[types.ID]*TableAlarm)
	for _, o := range stale {
		a, ok := byTable[o.TableID]
		if !ok {
			a = &TableAlarm{TableID: o.TableID, VenueID: o.VenueID}
			byTable[o.TableID] = a
			tableIDs = append(tableIDs, o.TableID)
		}
		a.OrderCount++
		if w := o.Waited(now); w > a.MaxWait {
			a.MaxWait = w
		}
	}

	for _, id := range tableIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		a := *byTable[id]
		pending, err := s.alarmTable(ctx, &a, cutoff, now, opts.DryRun)
		if err != nil {
			a.Outcome = AlarmFailed
			a.Err = err.Error()
			s.log.WithError(err).WithField("table_id", id).Error("sweep table failed")
		}
		s.emit(ctx, pending)

		switch a.Outcome {
		case AlarmRaised:
			report.Raised++
		case AlarmWouldRaise:
			report.WouldRaise++
		case AlarmAlreadyRaised:
			report.AlreadyAlarmed++
		case AlarmSkipped:
			report.Skipped++
		case AlarmFailed:
			report.Failed++
		}
		report.Tables = append(report.Tables, a)
	}

	s.log.WithFields(logrus.Fields{
		"stale_orders":    report.StaleOrders,
		"raised":          report.Raised,
		"would_raise":     report.WouldRaise,
		"already_alarmed": report.AlreadyAlarmed,
		"skipped":         report.Skipped,
		"failed":          report.Failed,
		"dry_run":         report.DryRun,
	}).Info("sweep finished")
	return report, nil
}

// alarmTable re-checks one table under its lock, since orders may have moved
// on between the stale query and now.
func (s *Service) alarmTable(ctx context.Context, a *TableAlarm, cutoff, now time.Time, dryRun bool) ([]emission, error) {
	unlock := s.locks.Lock(a.TableID)
	defer unlock()

	var pending []emission
	check := func(ctx context.Context, tx Repository) error {
		read := tx.LockTable
		if dryRun {
			read = tx.GetTable
		}
		tb, err := read(ctx, a.TableID)
		if err != nil {
			return err
		}
		a.VenueID = tb.VenueID
		a.PreviousState = tb.State
		switch tb.State {
		case table.StateAlarm:
			a.Outcome = AlarmAlreadyRaised
			return nil
		case table.StateOutOfService:
			a.Outcome = AlarmSkipped
			return nil
		}

		active, err := tx.ListActiveOrders(ctx, tb.ID)
		if err != nil {
			return err
		}
		a.OrderCount, a.MaxWait = 0, 0
		for _, o := range active {
			if !waiting(o.Status) || !o.PlacedAt.Before(cutoff) {
				continue
			}
			a.OrderCount++
			if w := o.Waited(now); w > a.MaxWait {
				a.MaxWait = w
			}
		}
		if a.OrderCount == 0 {
			a.Outcome = AlarmSkipped
			return nil
		}
		if dryRun {
			a.Outcome = AlarmWouldRaise
			return nil
		}

		ok, err := tx.UpdateTableState(ctx, tb.ID, tb.State, table.StateAlarm, tb.StateVersion, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		pending = append(pending,
			tableStateChanged(tb, tb.State, table.StateAlarm, now),
			waitTimeAlert(tb, *a, now),
		)
		a.Outcome = AlarmRaised
		return nil
	}

	if dryRun {
		return nil, check(ctx, s.repo)
	}
	if err := s.repo.WithTx(ctx, check); err != nil {
		return nil, err
	}
	if a.Outcome == AlarmRaised {
		s.log.WithFields(logrus.Fields{
			"table_id":     a.TableID,
			"wait_minutes": a.WaitMinutes(),
			"order_count":  a.OrderCount,
		}).Warn("wait time alarm raised")
	}
	return pending, nil
}

// RunSweeper sweeps every interval until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval, threshold time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, SweepOptions{Threshold: threshold}); err != nil && ctx.Err() == nil {
				s.log.WithError(err).Error("sweep failed")
			}
		}
	}
}

func waiting(st order.Status) bool {
	for _, w := range order.WaitingStatuses {
		if st == w {
			return true
		}
	}
	return false
}
