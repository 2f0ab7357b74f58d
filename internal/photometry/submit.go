package photometry

import (
	"context"
	"log/slog"
	"time"

	"github.com/knolan10/BBHBot/internal/types"
)

// sentinelNoCoords marks a cadence slot that had nothing to submit.
const sentinelNoCoords = "NA"

// submitAction selects coordinates for the action and submits them, routing
// overflow past the immediate-batch cap or the global ceiling into the
// backlog. Reports whether the record changed.
func (m *Manager) submitAction(ctx context.Context, rec *types.PhotometryRecord, action types.SubmissionAction, now time.Time) (bool, error) {
	units, err := m.selectUnits(ctx, rec, action, now)
	if err != nil {
		return false, err
	}

	total := 0
	for _, u := range units {
		total += len(u.Coords)
	}
	if total == 0 {
		// Record the cadence slot anyway so the schedule advances.
		rec.Submissions = append(rec.Submissions, types.Submission{
			Action:      action,
			SubmittedAt: now.UTC(),
			Complete:    true,
			Sentinel:    sentinelNoCoords,
		})
		m.logger.InfoContext(ctx, "no coordinates to submit",
			slog.String("event_id", rec.EventID),
			slog.String("action", string(action)),
		)
		return true, nil
	}

	var batchIDs []string
	submitted := 0
	batchCap := m.cfg.MaxImmediateBatches
	ceilingHit := false

	for _, unit := range units {
		jdEnd := types.JulianDay(now)
		immediate, overflow := formatForBatch(unit.Coords, m.cfg.BatchSize, batchCap)
		if ceilingHit {
			overflow = unit.Coords
			immediate = nil
		}

		for i, chunk := range immediate {
			if !m.budget.TryReserve(len(chunk)) {
				// Ceiling reached mid-unit; everything from here on is backlog.
				for _, rest := range immediate[i:] {
					overflow = append(overflow, rest...)
				}
				ceilingHit = true
				break
			}
			receipt, err := m.batch.SubmitBatch(ctx, chunk, unit.jdStart(), jdEnd)
			if err != nil {
				m.budget.Release(len(chunk))
				// Sub-batches already accepted are in flight at the service;
				// record them so completion polling can find them.
				if submitted > 0 {
					rec.Submissions = append(rec.Submissions, types.Submission{
						Action:           action,
						SubmittedAt:      now.UTC(),
						NumSubmitted:     submitted,
						BatchesSubmitted: len(batchIDs),
						BatchIDs:         batchIDs,
					})
				}
				return submitted > 0, err
			}
			batchIDs = append(batchIDs, receipt.BatchID)
			submitted += receipt.NumSubmitted
			batchCap--
		}

		if len(overflow) > 0 {
			entry := &types.QueueEntry{
				EventID:        rec.EventID,
				Coords:         overflow,
				Dates:          unit.Dates,
				Action:         action,
				NumberToSubmit: len(overflow),
				CreatedAt:      now.UTC(),
			}
			if _, err := m.backlog.Append(ctx, entry); err != nil {
				return submitted > 0, err
			}
			m.logger.InfoContext(ctx, "overflow queued to backlog",
				slog.String("event_id", rec.EventID),
				slog.Int("deferred", len(overflow)),
			)
			m.metrics.Count(ctx, "PhotometryBacklogged", float64(len(overflow)))
		}
	}

	if submitted == 0 {
		// Everything deferred; the backlog drain will record its own
		// submission later.
		return false, nil
	}

	rec.Submissions = append(rec.Submissions, types.Submission{
		Action:           action,
		SubmittedAt:      now.UTC(),
		NumSubmitted:     submitted,
		BatchesSubmitted: len(batchIDs),
		BatchIDs:         batchIDs,
	})
	m.logger.InfoContext(ctx, "photometry submitted",
		slog.String("event_id", rec.EventID),
		slog.String("action", string(action)),
		slog.Int("submitted", submitted),
		slog.Int("batches", len(batchIDs)),
	)
	m.metrics.Count(ctx, "PhotometrySubmitted", float64(submitted))
	return true, nil
}

// jdStart returns the Julian day the unit's request range starts at: the
// oldest prior retrieval for updates, or zero (full history) for new
// sources.
func (u coordGroup) jdStart() float64 {
	if len(u.Dates) == 0 {
		return 0
	}
	min := u.Dates[0]
	for _, d := range u.Dates[1:] {
		if d < min {
			min = d
		}
	}
	return min
}

// selectUnits builds the submission units for the action: one unit of
// never-retrieved catalog sources for "new", or one unit per stale date
// group for "update".
func (m *Manager) selectUnits(ctx context.Context, rec *types.PhotometryRecord, action types.SubmissionAction, now time.Time) ([]coordGroup, error) {
	archived, err := m.archive.Entries(rec.EventID)
	if err != nil {
		return nil, err
	}

	if action == types.ActionNew {
		trigger, err := m.triggers.Get(ctx, rec.EventID)
		if err != nil {
			return nil, err
		}
		if trigger == nil {
			return nil, types.NewAppError(types.ErrCodeConsistencyStaleRecord,
				"photometry record without a trigger record for "+rec.EventID, nil)
		}
		catalog, err := m.catalog.SourcesInLocalization(ctx, trigger.GCN.SkymapName, m.contour)
		if err != nil {
			return nil, err
		}
		coords := newCoords(catalog, archived)
		if len(coords) == 0 {
			return nil, nil
		}
		return []coordGroup{{Coords: coords}}, nil
	}

	staleBefore := daysToJD(now, m.cfg.UpdateStalenessDays)
	return updateGroups(archived, staleBefore, m.cfg.DateGroupWindowDays), nil
}

// completeSubmissions polls results for every incomplete submission. A
// submission completes only when every one of its batches has returned;
// partial returns leave it incomplete for the next pass. More returned
// batches than submitted is a consistency fault.
func (m *Manager) completeSubmissions(ctx context.Context, rec *types.PhotometryRecord) (bool, error) {
	changed := false
	for i := range rec.Submissions {
		sub := &rec.Submissions[i]
		if sub.Complete || sub.Sentinel != "" {
			continue
		}

		results, err := m.batch.FetchResults(ctx, sub.BatchIDs)
		if err != nil {
			return changed, err
		}

		done := 0
		for _, res := range results {
			if res.Done {
				done++
			}
		}
		if done > sub.BatchesSubmitted {
			return changed, types.NewAppError(types.ErrCodeConsistencyBatchCount,
				"more batches returned than submitted for "+rec.EventID, nil)
		}
		if done < sub.BatchesSubmitted {
			m.logger.InfoContext(ctx, "submission still in flight",
				slog.String("event_id", rec.EventID),
				slog.Int("returned", done),
				slog.Int("submitted", sub.BatchesSubmitted),
			)
			continue
		}

		retrievedJD := types.JulianDay(m.clock.Now())
		returned := 0
		for _, res := range results {
			returned += len(res.Lightcurves)
			for _, lc := range res.Lightcurves {
				coord := types.Coordinate{RA: lc.RA, Dec: lc.Dec}
				if err := m.archive.Put(rec.EventID, coord, retrievedJD, lc.Payload); err != nil {
					return changed, err
				}
			}
		}

		sub.NumberReturned = returned
		sub.NumberBroken = sub.NumSubmitted - returned
		if sub.NumberBroken < 0 {
			sub.NumberBroken = 0
		}
		// No budget release here: the service's pending count already
		// excludes returned batches, so the next pass's reconcile frees
		// the headroom.
		sub.Complete = true
		changed = true

		m.logger.InfoContext(ctx, "submission complete",
			slog.String("event_id", rec.EventID),
			slog.Int("returned", returned),
			slog.Int("broken", sub.NumberBroken),
		)
		m.metrics.Count(ctx, "PhotometryReturned", float64(returned))
	}
	return changed, nil
}
