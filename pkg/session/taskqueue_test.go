package session

import (
	"sync"
	"testing"
	"time"
)

func TestTaskQueueRunsInOrder(t *testing.T) {
	q := NewTaskQueue(nil)
	defer q.Close()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		q.Defer(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	q.Defer(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("queue did not drain")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestTaskQueueDeferNeverBlocks(t *testing.T) {
	q := NewTaskQueue(nil)
	defer q.Close()

	release := make(chan struct{})
	q.Defer(func() { <-release })
	start := time.Now()
	for i := 0; i < 10000; i++ {
		if !q.Defer(func() {}) {
			t.Fatalf("defer rejected on open queue")
		}
	}
	if time.Since(start) > time.Second {
		t.Fatalf("defer blocked behind a running task")
	}
	if q.Len() == 0 {
		t.Fatalf("expected pending tasks")
	}
	close(release)
}

func TestTaskQueueSurvivesPanicAndRejectsAfterClose(t *testing.T) {
	q := NewTaskQueue(nil)
	done := make(chan struct{})
	q.Defer(func() { panic("boom") })
	q.Defer(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("queue stopped after panic")
	}
	q.Close()
	q.Close()
	if q.Defer(func() {}) {
		t.Fatalf("closed queue accepted a task")
	}
}
