package invoice

import (
	"context"
	"fmt"

	"github.com/dvloznov/notion-ledger/internal/jobs"
	"github.com/dvloznov/notion-ledger/internal/logger"
)

// Runner performs one import.
type Runner interface {
	Import(ctx context.Context) (*Result, error)
}

// JobHandler runs import jobs taken from a queue. The import result, also a
// partial one, is kept on the job for status polling.
func JobHandler(r Runner) jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		importJob, ok := job.(*jobs.ImportInvoicesJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		log := logger.FromContext(ctx).With().Str("job_id", importJob.JobID).Logger()
		log.Info().Str("requested_by", importJob.RequestedBy).Msg("Processing import job")

		result, err := r.Import(logger.WithContext(ctx, log))
		if result != nil {
			importJob.Result = result
		}
		if err != nil {
			return err
		}

		log.Info().
			Int("saved", result.SavedCount).
			Int("skipped", result.SkippedCount).
			Msg("Import job completed")
		return nil
	}
}
