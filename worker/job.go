package worker

import (
	"context"
	"sync"

	"github.com/MrEthical07/umbra/cryptoengine"
	"github.com/MrEthical07/umbra/internal/protocol"
	"github.com/google/uuid"
)

// Job is one request together with where its outcome goes.
//
// A Job completes exactly once, either with the worker's response or with an
// error (engine failure, eviction, or rejection by the scheduler).
type Job struct {
	ID       string
	Request  protocol.Request
	progress func(cryptoengine.Progress)

	once sync.Once
	done chan struct{}
	resp protocol.Response
	err  error
}

// NewJob wraps req. progress, if non-nil, receives out-of-band reports and
// must not block.
func NewJob(req protocol.Request, progress func(cryptoengine.Progress)) *Job {
	return &Job{
		ID:       uuid.NewString(),
		Request:  req,
		progress: progress,
		done:     make(chan struct{}),
	}
}

// Fail completes the job with err and destroys any secrets the request still
// owns. It is a no-op on a completed job.
func (j *Job) Fail(err error) {
	j.once.Do(func() {
		j.Request.Release()
		j.err = err
		close(j.done)
	})
}

func (j *Job) complete(resp protocol.Response, err error) {
	handled := false
	j.once.Do(func() {
		handled = true
		j.resp, j.err = resp, err
		close(j.done)
	})
	if !handled && resp != nil {
		resp.Release()
	}
}

// Done is closed once the job has an outcome.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks for the outcome or ctx. The caller owns any secrets in the
// returned response.
func (j *Job) Wait(ctx context.Context) (protocol.Response, error) {
	select {
	case <-j.done:
		return j.resp, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (j *Job) report(p cryptoengine.Progress) {
	if j.progress != nil {
		j.progress(p)
	}
}
