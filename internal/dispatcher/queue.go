package dispatcher

import (
	"container/heap"
	"context"

	"marketintel/internal/models"
)

// queuedJob is a job waiting for a running slot
type queuedJob struct {
	job       *models.Job
	seq       uint64
	ctx       context.Context
	cancel    context.CancelCauseFunc
	cancelled bool
	index     int
}

// jobQueue orders waiting jobs: cancelled jobs first so they drain quickly,
// then higher priority, then submission order.
type jobQueue []*queuedJob

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.cancelled != b.cancelled {
		return a.cancelled
	}
	if a.job.Priority != b.job.Priority {
		return a.job.Priority > b.job.Priority
	}
	return a.seq < b.seq
}

func (q jobQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *jobQueue) Push(x interface{}) {
	item := x.(*queuedJob)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *jobQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// markCancelled moves a waiting job to the front of the queue
func (q *jobQueue) markCancelled(item *queuedJob) {
	item.cancelled = true
	if item.index >= 0 {
		heap.Fix(q, item.index)
	}
}
