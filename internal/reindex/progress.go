package reindex

import "context"

const (
	progressStart = 10
	progressSpan  = 80
	progressCap   = 90
	progressDone  = 100
)

// Progress maps processed/total onto the indexing window [10, 90].
func Progress(processed, total int64) int {
	if total <= 0 || processed <= 0 {
		return progressStart
	}
	pct := progressStart + int(processed*progressSpan/total)
	if pct > progressCap {
		return progressCap
	}
	return pct
}

// tracker reports progress to the job, never moving backwards.
type tracker struct {
	reporter  Reporter
	total     int64
	processed int64
	last      int
}

func (t *tracker) advance(ctx context.Context, n int) error {
	t.processed += int64(n)
	pct := Progress(t.processed, t.total)
	if pct < t.last {
		pct = t.last
	}
	t.last = pct
	return t.reporter.UpdateProgress(ctx, pct)
}
