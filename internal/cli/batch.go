package cli

import (
	"sync"

	"mediafetch/internal/engine"
	"mediafetch/internal/logs"
	"mediafetch/internal/model"
	"mediafetch/internal/registry"
)

// batchRunner owns the concurrency limit for a set of jobs; the engine
// itself never caps runs. A failed job stays Failed until an explicit retry.
type batchRunner struct {
	engine   *engine.Engine
	registry *registry.Registry
	journal  *logs.Journal
	workers  int
}

// Run downloads every job and returns the final snapshots in input order.
func (b batchRunner) Run(ids []string) []model.Job {
	results := make([]model.Job, len(ids))
	if len(ids) == 0 {
		return results
	}
	workers := clampInt(b.workers, 1, len(ids))
	jobCh := make(chan int)

	var wg sync.WaitGroup
	workerFn := func() {
		defer wg.Done()
		for i := range jobCh {
			results[i] = b.runOne(ids[i])
		}
	}
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go workerFn()
	}
	for i := range ids {
		jobCh <- i
	}
	close(jobCh)
	wg.Wait()
	return results
}

func (b batchRunner) runOne(id string) model.Job {
	job, err := b.engine.RunDownload(id)
	if err != nil {
		b.journal.Error(id, "Download could not start: "+err.Error())
		if current, ok := b.registry.Get(id); ok {
			return current
		}
		return model.Job{ID: id, Status: model.StatusFailed, StatusDetail: err.Error()}
	}
	return job
}

// latestJobs prefers the registry's current snapshot and falls back to the
// run result for jobs auto-cleared after finishing.
func latestJobs(reg *registry.Registry, results []model.Job) []model.Job {
	out := make([]model.Job, 0, len(results))
	for _, r := range results {
		if current, ok := reg.Get(r.ID); ok {
			out = append(out, current)
			continue
		}
		out = append(out, r)
	}
	return out
}
