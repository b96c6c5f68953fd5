// Package groutine runs the gateway's per-device background work. Every goroutine is
// started for a Task: the task and device show up as pprof labels, travel in the
// goroutine's context, and are counted while the goroutine runs.
package groutine

import (
	"context"
	"runtime/pprof"
	"sync/atomic"

	"github.com/cornelk/hashmap"
)

// pprof label keys
const (
	TaskLabel   = "ecogate.task"
	DeviceLabel = "ecogate.device"
)

// Task names a unit of background work, optionally bound to one device
type Task struct {
	Name   string
	Device string
}

func (t Task) String() string {
	if t.Device == "" {
		return t.Name
	}
	return t.Name + ":" + t.Device
}

type taskKey struct{}

var live = hashmap.New[string, *atomic.Int64]()

// Go starts fn for task.
//
//	groutine.Go(ctx, groutine.Task{Name: "disconnect-watch", Device: id}, link.watch)
//
// If parent is nil, context.Background() is used.
func Go(parent context.Context, task Task, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}

	count, _ := live.GetOrInsert(task.String(), new(atomic.Int64))
	count.Add(1)

	labels := pprof.Labels(TaskLabel, task.Name, DeviceLabel, task.Device)
	go pprof.Do(parent, labels, func(ctx context.Context) {
		defer count.Add(-1)
		fn(context.WithValue(ctx, taskKey{}, task))
	})
}

// FromContext returns the task a goroutine started by Go is running
func FromContext(ctx context.Context) (Task, bool) {
	if ctx == nil {
		return Task{}, false
	}
	t, ok := ctx.Value(taskKey{}).(Task)
	return t, ok
}

// Running reports how many goroutines started for task have not returned yet
func Running(task Task) int {
	count, ok := live.Get(task.String())
	if !ok {
		return 0
	}
	return int(count.Load())
}
