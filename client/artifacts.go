package client

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"github.com/testomatio/reporter/metrics"
	"github.com/testomatio/reporter/model"
	"github.com/testomatio/reporter/uploader"
)

const maxConcurrentUploads = 4

// artifacts uploads the files of a test and keeps the run totals.
type artifacts struct {
	logger   zerolog.Logger
	uploader uploader.Uploader
	total    atomic.Int64
	failed   atomic.Int64
}

func (a *artifacts) enabled() bool {
	return a.uploader != nil && a.uploader.Enabled()
}

// upload stores files and buffers and returns the URLs of the successful
// uploads. Failures are logged and counted, never returned.
func (a *artifacts) upload(ctx context.Context, rid string, files []string, buffers []model.FileBuffer) []string {
	if len(files) == 0 && len(buffers) == 0 {
		return nil
	}
	if !a.enabled() {
		a.logger.Debug().Str("rid", rid).Int("files", len(files)+len(buffers)).Msg("Artifacts not uploaded, no storage configured")
		return nil
	}

	p := pool.NewWithResults[string]().
		WithContext(ctx).
		WithMaxGoroutines(maxConcurrentUploads)
	for _, f := range files {
		p.Go(func(ctx context.Context) (string, error) {
			url, err := a.uploader.UploadFile(ctx, rid, f)
			a.record(err, f)
			return url, err
		})
	}
	for _, b := range buffers {
		p.Go(func(ctx context.Context) (string, error) {
			url, err := a.uploader.UploadBuffer(ctx, rid, b.Name, b.Data)
			a.record(err, b.Name)
			return url, err
		})
	}
	urls, err := p.Wait()
	if err != nil {
		a.logger.Debug().Err(err).Str("rid", rid).Msg("Some artifacts were not uploaded")
	}
	return urls
}

func (a *artifacts) record(err error, name string) {
	a.total.Add(1)
	metrics.RecordArtifact(err == nil)
	if err != nil {
		a.failed.Add(1)
		a.logger.Warn().Err(err).Str("file", name).Msg("Failed to upload artifact")
	}
}

func (a *artifacts) logSummary() {
	if !a.enabled() {
		return
	}
	total, failed := a.total.Load(), a.failed.Load()
	if total == 0 {
		return
	}
	ev := a.logger.Info()
	if failed > 0 {
		ev = a.logger.Warn()
	}
	ev.Int64("uploaded", total-failed).Int64("failed", failed).Msg("Artifacts summary")
}
