package domain

import "context"

// CommitOutcome is the context broker's answer to a segment PATCH.
// Committed is false for any non-success status.
type CommitOutcome struct {
	Committed bool
	Status    int
	Body      string
}

// Err returns a *CommitRejectedError for rejected commits, nil otherwise.
func (o CommitOutcome) Err() error {
	if o.Committed {
		return nil
	}
	return &CommitRejectedError{Status: o.Status, Body: o.Body}
}

// SurfaceUpdater writes a surface type patch to the context broker.
// Non-success HTTP statuses are reported in the outcome; the error is
// reserved for failures where no response was received.
type SurfaceUpdater interface {
	PatchSurfaceType(ctx context.Context, patch SegmentPatch) (CommitOutcome, error)
}

// SurfaceCommitter turns a resolved segment and a prediction into a patch.
type SurfaceCommitter struct {
	updater SurfaceUpdater
}

// NewSurfaceCommitter creates a committer backed by updater.
func NewSurfaceCommitter(updater SurfaceUpdater) *SurfaceCommitter {
	return &SurfaceCommitter{updater: updater}
}

// Commit overwrites the surface type of segmentID.
func (c *SurfaceCommitter) Commit(ctx context.Context, segmentID, tag string, probability float64) (CommitOutcome, error) {
	return c.updater.PatchSurfaceType(ctx, SegmentPatch{
		ID:          segmentID,
		SurfaceType: SurfaceType{Tag: tag, Probability: probability},
	})
}
