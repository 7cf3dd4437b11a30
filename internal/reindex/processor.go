package reindex

import (
	"context"
	"fmt"

	"github.com/testplanit/searchsync/internal/jobs"
)

// Processor runs reindex jobs taken from the queue.
func Processor(o *Orchestrator) jobs.ProcessorFunc {
	return func(ctx context.Context, job *jobs.Job) (any, error) {
		var p Payload
		if err := job.Decode(&p); err != nil {
			return nil, fmt.Errorf("invalid reindex payload: %w", err)
		}
		return o.Run(ctx, p, job)
	}
}
