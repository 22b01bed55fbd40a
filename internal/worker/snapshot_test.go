package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSaver struct {
	calls atomic.Int32
	fail  bool
}

func (f *fakeSaver) Save(ctx context.Context) error {
	f.calls.Add(1)
	if f.fail {
		return errors.New("save failed")
	}
	return nil
}

func TestSnapshotWorkerSavesImmediatelyAndOnInterval(t *testing.T) {
	saver := &fakeSaver{}
	w := NewSnapshotWorker(saver, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()
	<-done

	if saver.calls.Load() < 2 {
		t.Fatalf("expected at least 2 saves (immediate + ticked), got %d", saver.calls.Load())
	}
}

func TestSnapshotWorkerSurvivesSaveFailure(t *testing.T) {
	saver := &fakeSaver{fail: true}
	w := NewSnapshotWorker(saver, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(25 * time.Millisecond)
	cancel()
	<-done

	if saver.calls.Load() < 1 {
		t.Fatalf("expected at least 1 save attempt even though it fails, got %d", saver.calls.Load())
	}
}
