package watcher

import (
	"context"
	"time"

	"github.com/hyperjump/ingestd/internal/models"
	"go.uber.org/zap"
)

// Submitter accepts ingest requests.
type Submitter interface {
	Submit(ctx context.Context, req models.IngestRequest) (*models.IngestResponse, error)
}

// PathMapper converts an absolute file path to a blob path.
type PathMapper interface {
	RelPath(full string) (string, error)
}

// SubmitFunc returns an onFile callback that submits each file as a job.
// Tags are left empty so the metadata resolver infers them from the path and
// sidecar.
func SubmitFunc(ctx context.Context, paths PathMapper, sub Submitter, logger *zap.Logger) func(string) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(full string) {
		blobPath, err := paths.RelPath(full)
		if err != nil {
			logger.Warn("watcher skipped file", zap.String("path", full), zap.Error(err))
			return
		}
		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		resp, err := sub.Submit(sctx, models.IngestRequest{BlobPath: blobPath})
		if err != nil {
			logger.Error("watcher submit failed", zap.String("blob_path", blobPath), zap.Error(err))
			return
		}
		logger.Info("watcher queued file", zap.String("blob_path", blobPath), zap.String("job_id", resp.JobID))
	}
}
