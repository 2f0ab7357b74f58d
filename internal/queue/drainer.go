package queue

import (
	"context"
	"log/slog"

	"github.com/knolan10/BBHBot/internal/external"
	"github.com/knolan10/BBHBot/internal/types"
)

// backlogStore is the slice of the backlog repository the drainer needs.
type backlogStore interface {
	ListOldestFirst(ctx context.Context) ([]types.QueueEntry, error)
	Archive(ctx context.Context, id int64) error
}

// batchSubmitter submits one sub-batch to the photometry service.
type batchSubmitter interface {
	SubmitBatch(ctx context.Context, coords []types.Coordinate, jdStart, jdEnd float64) (external.SubmissionReceipt, error)
}

// photometryStore reads and writes per-event photometry records.
type photometryStore interface {
	Get(ctx context.Context, eventID string) (*types.PhotometryRecord, error)
	Update(ctx context.Context, rec *types.PhotometryRecord) error
}

// Drainer moves backlog entries into the batch service whenever the budget
// has room. Entries drain strictly oldest-first; the first entry that does
// not fit stops the pass so nothing behind it can starve it.
type Drainer struct {
	backlog   backlogStore
	batch     batchSubmitter
	records   photometryStore
	budget    *Budget
	batchSize int
	clock     types.Clock
	logger    *slog.Logger
}

// NewDrainer creates a backlog Drainer.
func NewDrainer(backlog backlogStore, batch batchSubmitter, records photometryStore, budget *Budget, batchSize int, clock types.Clock, logger *slog.Logger) *Drainer {
	return &Drainer{
		backlog:   backlog,
		batch:     batch,
		records:   records,
		budget:    budget,
		batchSize: batchSize,
		clock:     clock,
		logger:    logger,
	}
}

// Drain processes backlog entries until one does not fit the budget or the
// backlog is empty. Returns how many entries were drained. A single entry's
// submission failure releases its reservation and aborts the pass; the
// entry stays in the backlog for the next one.
func (d *Drainer) Drain(ctx context.Context) (int, error) {
	entries, err := d.backlog.ListOldestFirst(ctx)
	if err != nil {
		return 0, err
	}

	drained := 0
	for _, entry := range entries {
		if !d.budget.TryReserve(entry.NumberToSubmit) {
			d.logger.InfoContext(ctx, "backlog drain stopped at budget ceiling",
				slog.Int64("entry_id", entry.ID),
				slog.Int("entry_size", entry.NumberToSubmit),
				slog.Int("pending", d.budget.Pending()),
			)
			break
		}

		if err := d.drainOne(ctx, entry); err != nil {
			d.budget.Release(entry.NumberToSubmit)
			return drained, err
		}
		drained++
	}
	return drained, nil
}

// drainOne submits the entry's coordinates, records the submission on the
// event's photometry record with FromQueue set, and archives the entry.
func (d *Drainer) drainOne(ctx context.Context, entry types.QueueEntry) error {
	jdStart, jdEnd := entry.DateRange(d.clock.Now())

	var batchIDs []string
	submitted := 0
	for _, chunk := range chunkCoords(entry.Coords, d.batchSize) {
		receipt, err := d.batch.SubmitBatch(ctx, chunk, jdStart, jdEnd)
		if err != nil {
			return err
		}
		batchIDs = append(batchIDs, receipt.BatchID)
		submitted += receipt.NumSubmitted
	}

	rec, err := d.records.Get(ctx, entry.EventID)
	if err != nil {
		return err
	}
	if rec != nil {
		rec.Submissions = append(rec.Submissions, types.Submission{
			Action:           entry.Action,
			SubmittedAt:      d.clock.Now().UTC(),
			NumSubmitted:     submitted,
			BatchesSubmitted: len(batchIDs),
			BatchIDs:         batchIDs,
			FromQueue:        true,
		})
		if err := d.records.Update(ctx, rec); err != nil {
			return err
		}
	}

	if err := d.backlog.Archive(ctx, entry.ID); err != nil {
		return err
	}

	d.logger.InfoContext(ctx, "backlog entry drained",
		slog.Int64("entry_id", entry.ID),
		slog.String("event_id", entry.EventID),
		slog.Int("submitted", submitted),
		slog.Int("batches", len(batchIDs)),
	)
	return nil
}

// chunkCoords splits coords into sub-batches of at most size entries.
func chunkCoords(coords []types.Coordinate, size int) [][]types.Coordinate {
	if size <= 0 || len(coords) == 0 {
		return nil
	}
	var chunks [][]types.Coordinate
	for start := 0; start < len(coords); start += size {
		end := start + size
		if end > len(coords) {
			end = len(coords)
		}
		chunks = append(chunks, coords[start:end])
	}
	return chunks
}
