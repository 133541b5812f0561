package bus

import (
	"testing"
	"time"
)

func TestQueueServiceRunsOneItem(t *testing.T) {
	q := NewQueue(4)
	var got Event
	q.react = func(e Event) { got = e }

	d := &Dispatcher{queue: q, react: q.react}
	if !d.Dispatch(KeyLockChanged{Locked: true}) {
		t.Fatal("dispatch should have succeeded")
	}

	ran := q.Service(100 * time.Millisecond)
	if !ran {
		t.Fatal("expected Service to report an item ran")
	}
	if _, ok := got.(KeyLockChanged); !ok {
		t.Fatalf("expected KeyLockChanged, got %T", got)
	}
}

func TestQueueServiceTimesOut(t *testing.T) {
	q := NewQueue(1)
	if q.Service(10 * time.Millisecond) {
		t.Fatal("expected no item to run on an empty queue")
	}
}

func TestDispatchFullQueueReturnsFalse(t *testing.T) {
	q := NewQueue(1)
	d := &Dispatcher{queue: q}
	if !d.Dispatch(OnIdle{}) {
		t.Fatal("first dispatch should succeed")
	}
	if d.Dispatch(OnIdle{}) {
		t.Fatal("second dispatch should fail: queue is full")
	}
}

func TestMustDispatchPanicsOnFullQueue(t *testing.T) {
	q := NewQueue(1)
	d := &Dispatcher{queue: q}
	d.MustDispatch(OnIdle{})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on full queue")
		}
	}()
	d.MustDispatch(OnIdle{})
}

func TestRunOnTaskExecutesOnQueue(t *testing.T) {
	q := NewQueue(1)
	d := &Dispatcher{queue: q}
	done := make(chan struct{})
	d.RunOnTask(func() { close(done) })

	if !q.Service(100 * time.Millisecond) {
		t.Fatal("expected the closure work item to run")
	}
	select {
	case <-done:
	default:
		t.Fatal("closure did not run")
	}
}

func TestRouterRoutesSharedQueueToBothFSMs(t *testing.T) {
	r := NewRouter()
	var sawSystem, sawAudio bool
	r.BindSystem(func(e Event) { sawSystem = true })
	r.BindAudio(func(e Event) { sawAudio = true })

	r.DispatchAll(BootComplete{})
	if !r.SystemAndAudio.Service(100 * time.Millisecond) {
		t.Fatal("expected shared queue item")
	}
	if !sawSystem || !sawAudio {
		t.Fatalf("expected both FSMs to see the event: system=%v audio=%v", sawSystem, sawAudio)
	}
}
