package scheduler

// Queue is a batch of tasks of one kind. Run executes every task in parallel;
// each task may write only to its own descriptor and to data it alone owns.
// ProcessResults then visits the tasks in insertion order on the calling
// goroutine, where shared structures may be written.
type Queue[T any] struct {
	name    string
	tasks   []T
	run     func(*T)
	process func(*T)
}

// NewQueue creates a queue. process may be nil.
func NewQueue[T any](name string, run, process func(*T)) *Queue[T] {
	return &Queue[T]{name: name, run: run, process: process}
}

// Name returns the queue's name.
func (q *Queue[T]) Name() string { return q.name }

// Add appends a task.
func (q *Queue[T]) Add(t T) { q.tasks = append(q.tasks, t) }

// Len returns the number of queued tasks.
func (q *Queue[T]) Len() int { return len(q.tasks) }

// Tasks returns the queued tasks.
func (q *Queue[T]) Tasks() []T { return q.tasks }

// Run executes the tasks with s. A nil s runs them serially.
func (q *Queue[T]) Run(s Scheduler, grain int) {
	if s == nil {
		s = Serial{}
	}
	s.ParallelFor(len(q.tasks), grain, func(begin, end int) {
		for i := begin; i < end; i++ {
			q.run(&q.tasks[i])
		}
	})
}

// ProcessResults visits the tasks in order on the calling goroutine.
func (q *Queue[T]) ProcessResults() {
	if q.process == nil {
		return
	}
	for i := range q.tasks {
		q.process(&q.tasks[i])
	}
}

// Reset empties the queue, keeping its storage.
func (q *Queue[T]) Reset() {
	clear(q.tasks)
	q.tasks = q.tasks[:0]
}

// Execute runs the batch, processes the results and empties the queue. It
// returns the number of tasks run.
func (q *Queue[T]) Execute(s Scheduler, grain int) int {
	n := len(q.tasks)
	q.Run(s, grain)
	q.ProcessResults()
	q.Reset()
	return n
}
