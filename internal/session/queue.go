package session

import (
	"errors"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/claudia/pkg/types"
)

// ErrQueueFull is returned when a prompt is submitted to a full queue.
var ErrQueueFull = errors.New("prompt queue is full")

// Queue holds prompts submitted while a turn is in flight, in submission
// order. It is not safe for concurrent use.
type Queue struct {
	items    []types.QueuedPrompt
	maxDepth int
}

// NewQueue creates a queue. maxDepth <= 0 means unbounded.
func NewQueue(maxDepth int) *Queue {
	return &Queue{maxDepth: maxDepth}
}

// Push appends a prompt and returns its id.
func (q *Queue) Push(prompt, model string) (types.QueuedPrompt, error) {
	if q.maxDepth > 0 && len(q.items) >= q.maxDepth {
		return types.QueuedPrompt{}, ErrQueueFull
	}
	item := types.QueuedPrompt{ID: ulid.Make().String(), Prompt: prompt, Model: model}
	q.items = append(q.items, item)
	return item, nil
}

// Pop removes and returns the head.
func (q *Queue) Pop() (types.QueuedPrompt, bool) {
	if len(q.items) == 0 {
		return types.QueuedPrompt{}, false
	}
	head := q.items[0]
	q.items = append(q.items[:0:0], q.items[1:]...)
	return head, true
}

// Remove deletes the prompt with id; later prompts shift up.
func (q *Queue) Remove(id string) bool {
	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Clear discards every queued prompt and returns how many there were.
func (q *Queue) Clear() int {
	n := len(q.items)
	q.items = nil
	return n
}

// Len returns the number of queued prompts.
func (q *Queue) Len() int {
	return len(q.items)
}

// Items returns a copy of the queued prompts in order.
func (q *Queue) Items() []types.QueuedPrompt {
	return append([]types.QueuedPrompt{}, q.items...)
}
