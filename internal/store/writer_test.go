package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deltaemu/savestated/internal/models"
	"github.com/deltaemu/savestated/internal/store"
)

func newTestWriter(t *testing.T) (*store.MemStore, *store.Writer) {
	t.Helper()
	s := store.NewMemStore()
	w := store.NewWriter(s)
	t.Cleanup(func() { w.Close() })
	seedGames(t, s, "g")
	return s, w
}

func TestWriterRunsJobsInOrder(t *testing.T) {
	_, w := newTestWriter(t)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		if err := w.Perform(context.Background(), func(*store.Txn) {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Perform: %v", err)
		}
	}
	wg.Wait()
	for i, v := range order {
		if v != i {
			t.Fatalf("job %d ran at position %d", v, i)
		}
	}
}

func TestWriterPerformDoesNotBlock(t *testing.T) {
	_, w := newTestWriter(t)
	release := make(chan struct{})
	started := make(chan struct{})
	_ = w.Perform(context.Background(), func(*store.Txn) {
		close(started)
		<-release
	})
	<-started

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			_ = w.Perform(context.Background(), func(*store.Txn) {})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Perform blocked while the writer was busy")
	}
	close(release)
}

func TestWriterJobsSurviveCallerCancellation(t *testing.T) {
	s, w := newTestWriter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.PerformAndWait(context.Background(), func(*store.Txn) error { return nil })
	if err != nil {
		t.Fatalf("warm-up: %v", err)
	}

	done := make(chan error, 1)
	_ = w.Perform(ctx, func(tx *store.Txn) {
		g, err := tx.Game("g")
		if err != nil {
			done <- err
			return
		}
		rec := tx.InsertSaveState("a", g)
		rec.Filename = "a"
		rec.CreationDate = baseTime
		rec.ModifiedDate = baseTime
		done <- tx.Save()
	})
	if err := <-done; err != nil {
		t.Fatalf("job with cancelled caller context failed: %v", err)
	}
	if _, err := s.SaveState(context.Background(), "a"); err != nil {
		t.Errorf("record not committed: %v", err)
	}
}

func TestWriterCloseDrainsQueue(t *testing.T) {
	s := store.NewMemStore()
	w := store.NewWriter(s)
	var ran int
	for i := 0; i < 10; i++ {
		_ = w.Perform(context.Background(), func(*store.Txn) { ran++ })
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ran != 10 {
		t.Errorf("ran %d jobs before Close returned, want 10", ran)
	}
	if err := w.Perform(context.Background(), func(*store.Txn) {}); !errors.Is(err, store.ErrClosed) {
		t.Errorf("Perform after Close err = %v, want ErrClosed", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestWriterRecoversFromPanickingJob(t *testing.T) {
	_, w := newTestWriter(t)
	err := w.PerformAndWait(context.Background(), func(*store.Txn) error { panic("boom") })
	if err == nil {
		t.Fatal("expected error from panicking job")
	}
	if err := w.PerformAndWait(context.Background(), func(*store.Txn) error { return nil }); err != nil {
		t.Errorf("writer unusable after panic: %v", err)
	}
}

func TestTxnUnsavedChangesAreDiscarded(t *testing.T) {
	s, w := newTestWriter(t)
	err := w.PerformAndWait(context.Background(), func(tx *store.Txn) error {
		g, err := tx.Game("g")
		if err != nil {
			return err
		}
		rec := tx.InsertSaveState("never", g)
		rec.Filename = "never"
		rec.CreationDate = baseTime
		rec.ModifiedDate = baseTime
		return nil
	})
	if err != nil {
		t.Fatalf("PerformAndWait: %v", err)
	}
	if _, err := s.SaveState(context.Background(), "never"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unsaved insert became visible, err = %v", err)
	}
}

func TestTxnResolvesByIdentifierAndTracksUpdates(t *testing.T) {
	s, w := newTestWriter(t)
	ctx := context.Background()
	if err := s.Apply(ctx, store.ChangeSet{Inserted: []models.SaveState{record("a", "g", baseTime)}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// The caller's copy is never touched by the writer.
	callerCopy, _ := s.SaveState(ctx, "a")

	err := w.PerformAndWait(ctx, func(tx *store.Txn) error {
		rec, err := tx.SaveState(callerCopy.Identifier)
		if err != nil {
			return err
		}
		again, _ := tx.SaveState("a")
		if again != rec {
			t.Error("re-resolving in the same transaction should return the same handle")
		}
		name := "Renamed"
		rec.Name = &name
		rec.ModifiedDate = baseTime.Add(time.Minute)
		return tx.Save()
	})
	if err != nil {
		t.Fatalf("PerformAndWait: %v", err)
	}
	if callerCopy.Name != nil {
		t.Error("caller copy was mutated")
	}
	got, _ := s.SaveState(ctx, "a")
	if got.Name == nil || *got.Name != "Renamed" {
		t.Errorf("name after update = %v", got.Name)
	}
}

func TestTxnDelete(t *testing.T) {
	s, w := newTestWriter(t)
	ctx := context.Background()
	if err := s.Apply(ctx, store.ChangeSet{Inserted: []models.SaveState{record("a", "g", baseTime)}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	err := w.PerformAndWait(ctx, func(tx *store.Txn) error {
		if err := tx.Delete("a"); err != nil {
			return err
		}
		if _, err := tx.SaveState("a"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("deleted record still resolvable: %v", err)
		}
		return tx.Save()
	})
	if err != nil {
		t.Fatalf("PerformAndWait: %v", err)
	}
	if _, err := s.SaveState(ctx, "a"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("record still present: %v", err)
	}

	err = w.PerformAndWait(ctx, func(tx *store.Txn) error { return tx.Delete("a") })
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("deleting a missing record err = %v, want ErrNotFound", err)
	}
}

func TestTxnFailedSaveCommitsNothing(t *testing.T) {
	s, w := newTestWriter(t)
	ctx := context.Background()
	err := w.PerformAndWait(ctx, func(tx *store.Txn) error {
		g := tx.UpsertGame("new-game", "New")
		rec := tx.InsertSaveState("bad", g)
		rec.Filename = "bad"
		rec.CreationDate = baseTime
		rec.ModifiedDate = baseTime.Add(-time.Hour)
		return tx.SaveWithErrorLogging()
	})
	if err == nil {
		t.Fatal("expected commit failure")
	}
	if _, err := s.Game(ctx, "new-game"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("game from failed commit is visible: %v", err)
	}
}
