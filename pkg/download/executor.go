// Package download fetches the artifacts a service declares before its
// executable is launched.
package download

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/core-tools/hsu-service-wrapper/pkg/descriptor"
	"github.com/core-tools/hsu-service-wrapper/pkg/errors"
	"github.com/core-tools/hsu-service-wrapper/pkg/logging"
	"github.com/core-tools/hsu-service-wrapper/pkg/metrics"
)

// Outcome is the final state of one download entry.
type Outcome string

const (
	OutcomeDownloaded  Outcome = "downloaded"
	OutcomeNotModified Outcome = "not_modified"
	OutcomeFailed      Outcome = "failed"
	OutcomeSkipped     Outcome = "skipped"
)

// EntryResult records what happened to one entry.
type EntryResult struct {
	From        string
	To          string
	FailOnError bool
	Outcome     Outcome
	Duration    time.Duration
	Err         error
}

// Result lists entry results in declaration order.
type Result struct {
	Entries []EntryResult
}

// Warnings returns the failures of entries that did not require success.
func (r *Result) Warnings() []error {
	var warnings []error
	for _, e := range r.Entries {
		if e.Outcome == OutcomeFailed && e.Err != nil && !e.FailOnError {
			warnings = append(warnings, e.Err)
		}
	}
	return warnings
}

// Count returns the number of entries with the given outcome.
func (r *Result) Count(outcome Outcome) int {
	n := 0
	for _, e := range r.Entries {
		if e.Outcome == outcome {
			n++
		}
	}
	return n
}

// Options configures an Executor.
type Options struct {
	// Concurrency bounds parallel transfers. Values below 1 mean 1.
	Concurrency int

	// Fetcher performs single transfers. Nil uses an HTTP fetcher with
	// http.DefaultTransport.
	Fetcher Fetcher
}

// Fetcher transfers one entry to its destination.
type Fetcher interface {
	Fetch(ctx context.Context, d descriptor.Download) (Outcome, error)
}

// Executor runs the download phase of a service start.
type Executor struct {
	concurrency int
	fetcher     Fetcher
	metrics     *metrics.Metrics
	logger      logging.Logger
}

// NewExecutor creates an executor. m may be nil.
func NewExecutor(options Options, m *metrics.Metrics, logger logging.Logger) *Executor {
	concurrency := options.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	fetcher := options.Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher(nil, logger)
	}
	return &Executor{
		concurrency: concurrency,
		fetcher:     fetcher,
		metrics:     m,
		logger:      logger,
	}
}

// ExecuteAll validates every entry, then transfers them in declaration
// order. A failing entry with FailOnError cancels the phase: entries not yet
// started are skipped and the DownloadError is returned. Other failures are
// logged and recorded in the result.
func (e *Executor) ExecuteAll(ctx context.Context, downloads []descriptor.Download) (*Result, error) {
	for i, d := range downloads {
		if err := d.Validate(); err != nil {
			e.logger.Errorf("Download validation failed, index: %d, from: %s, error: %v", i, d.From, err)
			if de, ok := err.(*errors.DomainError); ok {
				de.WithContext("download_index", i)
			}
			return nil, err
		}
	}

	result := &Result{Entries: make([]EntryResult, len(downloads))}
	for i, d := range downloads {
		result.Entries[i] = EntryResult{From: d.From, To: d.To, FailOnError: d.FailOnError, Outcome: OutcomeSkipped}
	}
	if len(downloads) == 0 {
		return result, nil
	}

	e.logger.Infof("Executing downloads, count: %d, concurrency: %d", len(downloads), e.concurrency)

	p := pool.New().
		WithContext(ctx).
		WithMaxGoroutines(e.concurrency).
		WithCancelOnError().
		WithFirstError()

	for i, d := range downloads {
		if ctx.Err() != nil {
			break
		}
		i, d := i, d
		p.Go(func(ctx context.Context) error {
			return e.executeOne(ctx, i, d, &result.Entries[i])
		})
	}

	err := p.Wait()
	for _, entry := range result.Entries {
		if entry.Outcome == OutcomeSkipped {
			e.metrics.ObserveDownload(string(OutcomeSkipped), 0)
		}
	}

	if ctx.Err() != nil {
		cause := err
		if cause == nil {
			cause = ctx.Err()
		}
		return result, errors.NewCancelledError("download phase cancelled", cause)
	}
	if err != nil {
		return result, err
	}

	e.logger.Infof("Downloads completed, downloaded: %d, not modified: %d, failed: %d",
		result.Count(OutcomeDownloaded), result.Count(OutcomeNotModified), result.Count(OutcomeFailed))
	return result, nil
}

func (e *Executor) executeOne(ctx context.Context, index int, d descriptor.Download, entry *EntryResult) error {
	if ctx.Err() != nil {
		e.logger.Infof("Skipping download after abort, index: %d, from: %s", index, d.From)
		return nil
	}

	e.logger.Infof("Downloading, index: %d, from: %s, to: %s, auth: %s", index, d.From, d.To, d.Auth)
	start := time.Now()
	outcome, err := e.fetcher.Fetch(ctx, d)
	duration := time.Since(start)

	entry.Duration = duration
	if err == nil {
		entry.Outcome = outcome
		e.metrics.ObserveDownload(string(outcome), duration)
		e.logger.Infof("Download finished, index: %d, to: %s, outcome: %s, duration: %v", index, d.To, outcome, duration)
		return nil
	}

	entry.Outcome = OutcomeFailed
	e.metrics.ObserveDownload(string(OutcomeFailed), duration)

	if d.FailOnError {
		downloadErr := errors.NewDownloadError(fmt.Sprintf("failed to download %s to %s", d.From, d.To), err).
			WithContext("download_index", index).
			WithContext("from", d.From)
		entry.Err = downloadErr
		e.logger.Errorf("Download failed, aborting remaining downloads, index: %d, from: %s, error: %v", index, d.From, err)
		return downloadErr
	}

	entry.Err = err
	e.logger.Warnf("Download failed, continuing, index: %d, from: %s, error: %v", index, d.From, err)
	return nil
}
