package tracing

import (
	"container/list"
	"sync"

	"github.com/sarchlab/cosim/sim"
)

type taskTimeStartEnd struct {
	start, end sim.VTimeInCycle
	completed  bool
}

// BusyTimeTracer traces the cycles that a domain spends processing a kind of
// task. If the task processing time overlaps, this tracer only considers one
// instance of the overlapped time.
type BusyTimeTracer struct {
	lock          sync.Mutex
	timeTeller    sim.TimeTeller
	filter        TaskFilter
	inflightTasks map[string]*list.Element
	taskTimes     *list.List
	busyTime      sim.VTimeInCycle
}

// NewBusyTimeTracer creates a new BusyTimeTracer
func NewBusyTimeTracer(
	timeTeller sim.TimeTeller,
	filter TaskFilter,
) *BusyTimeTracer {
	t := &BusyTimeTracer{
		timeTeller:    timeTeller,
		filter:        filter,
		inflightTasks: make(map[string]*list.Element),
		taskTimes:     list.New(),
	}

	return t
}

// BusyTime returns the number of cycles in which at least one task finished
// so far was running.
func (t *BusyTimeTracer) BusyTime() sim.VTimeInCycle {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.busyTime
}

// TerminateAllTasks will mark all the tasks as completed.
func (t *BusyTimeTracer) TerminateAllTasks(now sim.VTimeInCycle) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for e := t.taskTimes.Front(); e != nil; e = e.Next() {
		task := e.Value.(*taskTimeStartEnd)
		if !task.completed {
			task.completed = true
			task.end = now
		}
	}

	t.inflightTasks = make(map[string]*list.Element)

	t.collapse(now)
}

// Handle terminates the running tasks when the simulation ends.
func (t *BusyTimeTracer) Handle(now sim.VTimeInCycle) {
	t.TerminateAllTasks(now)
}

// StartTask records the task start time
func (t *BusyTimeTracer) StartTask(task Task) {
	task.StartTime = t.timeTeller.CurrentTime()

	if t.filter != nil && !t.filter(task) {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	elem := t.taskTimes.PushBack(&taskTimeStartEnd{start: task.StartTime})
	t.inflightTasks[task.ID] = elem
}

// EndTask records the end of the task
func (t *BusyTimeTracer) EndTask(task Task) {
	endTime := t.timeTeller.CurrentTime()

	t.lock.Lock()
	defer t.lock.Unlock()

	elem, ok := t.inflightTasks[task.ID]
	if !ok {
		return
	}

	time := elem.Value.(*taskTimeStartEnd)
	time.end = endTime
	time.completed = true
	delete(t.inflightTasks, task.ID)

	t.collapse(endTime)
}

// collapse folds the leading completed tasks into the busy time once no
// earlier task is still running.
func (t *BusyTimeTracer) collapse(now sim.VTimeInCycle) {
	start, found := t.startTimeOfFirstIncompleteTask()
	if found && start < now {
		return
	}

	var finished []*taskTimeStartEnd

	var next *list.Element
	for e := t.taskTimes.Front(); e != nil; e = next {
		next = e.Next()

		task := e.Value.(*taskTimeStartEnd)
		if !task.completed {
			break
		}

		if task.end <= now {
			finished = append(finished, task)
			t.taskTimes.Remove(e)
		}
	}

	t.busyTime += mergedLength(finished)
}

func (t *BusyTimeTracer) startTimeOfFirstIncompleteTask() (
	sim.VTimeInCycle, bool,
) {
	for e := t.taskTimes.Front(); e != nil; e = e.Next() {
		task := e.Value.(*taskTimeStartEnd)
		if !task.completed {
			return task.start, true
		}
	}

	return 0, false
}

// mergedLength returns the length of the union of the intervals.
func mergedLength(tasks []*taskTimeStartEnd) sim.VTimeInCycle {
	var busy sim.VTimeInCycle

	covered := make([]bool, len(tasks))

	for i, t1 := range tasks {
		if covered[i] {
			continue
		}

		covered[i] = true
		ext := *t1

		for changed := true; changed; {
			changed = false

			for j, t2 := range tasks {
				if covered[j] || !overlap(&ext, t2) {
					continue
				}

				covered[j] = true
				changed = true

				ext.start = min(ext.start, t2.start)
				ext.end = max(ext.end, t2.end)
			}
		}

		busy += ext.end - ext.start
	}

	return busy
}

func overlap(t1, t2 *taskTimeStartEnd) bool {
	return t1.start <= t2.end && t2.start <= t1.end
}
