package protocol

import "github.com/MrEthical07/umbra/cryptoengine"

// Event is anything a worker unit sends back over its channel.
type Event interface {
	isEvent()
}

// Reply carries the response to the job with JobID.
type Reply struct {
	JobID    string
	Response Response
}

// Progress is an out-of-band report for a running job.
type Progress struct {
	JobID string
	cryptoengine.Progress
}

// Freed marks the unit available again after a job of ProcessType.
type Freed struct {
	ProcessType Kind
}

func (Reply) isEvent()    {}
func (Progress) isEvent() {}
func (Freed) isEvent()    {}
