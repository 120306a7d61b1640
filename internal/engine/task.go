package engine

import (
	"context"
	"time"
)

// task is a tracked action goroutine.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// spawn runs fn in a tracked goroutine. The task leaves the active set
// when fn returns.
func (r *Runner) spawn(ctx context.Context, fn func(context.Context)) *task {
	tctx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.tasks[t] = struct{}{}
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.tasks, t)
			r.mu.Unlock()
			cancel()
			close(t.done)
		}()
		fn(tctx)
	}()
	return t
}

func (r *Runner) activeTasks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func (r *Runner) snapshotTasks() []*task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*task, 0, len(r.tasks))
	for t := range r.tasks {
		out = append(out, t)
	}
	return out
}

// waitTasks waits for the active tasks to finish, for at most delay
// seconds. A delay of zero or less waits without a deadline.
func (r *Runner) waitTasks(ctx context.Context, delay float64) {
	var deadline <-chan time.Time
	if delay > 0 {
		timer := time.NewTimer(seconds(delay))
		defer timer.Stop()
		deadline = timer.C
	}
	for _, t := range r.snapshotTasks() {
		select {
		case <-t.done:
		case <-deadline:
			return
		case <-ctx.Done():
			return
		}
	}
}

// cancelTasks cancels every active task and waits until all have ended.
func (r *Runner) cancelTasks() {
	tasks := r.snapshotTasks()
	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		<-t.done
	}
}
