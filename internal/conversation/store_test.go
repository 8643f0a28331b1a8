package conversation

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestGetOrCreateStartsIdle(t *testing.T) {
	t.Parallel()

	s := NewStore()
	rec, err := s.GetOrCreate("u1", epoch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Stage != StageIdle || rec.UserKey != "u1" || !rec.UpdatedAt.Equal(epoch) {
		t.Fatalf("unexpected record: %+v", rec)
	}
	again, _ := s.GetOrCreate("u1", epoch.Add(time.Hour))
	if !again.UpdatedAt.Equal(epoch) {
		t.Fatalf("GetOrCreate must not touch an existing record")
	}
}

func TestEmptyUserKeyRejected(t *testing.T) {
	t.Parallel()

	s := NewStore()
	if _, err := s.GetOrCreate(" ", epoch); !errors.Is(err, ErrEmptyUserKey) {
		t.Fatalf("expected ErrEmptyUserKey, got %v", err)
	}
	if _, err := s.SetStage("", StageFailure, epoch); !errors.Is(err, ErrEmptyUserKey) {
		t.Fatalf("expected ErrEmptyUserKey, got %v", err)
	}
}

func TestMutatorsTouchOnlyNamedFields(t *testing.T) {
	t.Parallel()

	s := NewStore()
	rec, _ := s.SetPhoto("u1", "https://img/a.jpg", epoch)
	if rec.Stage != StageAwaitingStyle || rec.LastPhotoURL != "https://img/a.jpg" {
		t.Fatalf("photo transition not applied: %+v", rec)
	}

	later := epoch.Add(time.Minute)
	rec, _ = s.SetSelectedStyle("u1", "gold", later)
	if rec.SelectedStyle != "gold" || rec.Stage != StageAwaitingStyle || rec.LastPhotoURL != "https://img/a.jpg" {
		t.Fatalf("style mutator changed other fields: %+v", rec)
	}
	if !rec.UpdatedAt.Equal(later) {
		t.Fatalf("updatedAt not stamped")
	}

	rec, _ = s.SetPreferredLang("u1", "en", later)
	rec, _ = s.SetLastGenerated("u1", "https://cdn/generated/x.jpg", later)
	if rec.PreferredLang != "en" || rec.LastGeneratedURL != "https://cdn/generated/x.jpg" || rec.SelectedStyle != "gold" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestReturnedRecordIsACopy(t *testing.T) {
	t.Parallel()

	s := NewStore()
	rec, _ := s.SetStage("u1", StageFailure, epoch)
	rec.Stage = StageIdle
	stored, ok := s.Get("u1")
	if !ok || stored.Stage != StageFailure {
		t.Fatalf("store was mutated through a returned copy: %+v", stored)
	}
}

func TestPruneOlderThan(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_, _ = s.SetStage("stale", StageResultReady, epoch)
	_, _ = s.SetStage("fresh", StageResultReady, epoch.Add(6*24*time.Hour))

	removed := s.PruneOlderThan(7*24*time.Hour, epoch.Add(7*24*time.Hour+time.Second))
	if removed != 1 {
		t.Fatalf("expected one pruned record, got %d", removed)
	}
	if _, ok := s.Get("stale"); ok {
		t.Fatalf("stale record should be gone")
	}
	if _, ok := s.Get("fresh"); !ok {
		t.Fatalf("fresh record should remain")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	t.Parallel()

	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Update("u1", epoch, func(r *Record) {
				r.LastPhotoURL += "x"
			})
		}()
	}
	wg.Wait()
	rec, _ := s.Get("u1")
	if len(rec.LastPhotoURL) != 50 {
		t.Fatalf("lost updates: %d", len(rec.LastPhotoURL))
	}
}

func TestStageValid(t *testing.T) {
	t.Parallel()

	for _, stage := range AllStages() {
		if !stage.Valid() {
			t.Fatalf("%s should be valid", stage)
		}
	}
	if Stage("GENERATING").Valid() {
		t.Fatalf("unknown stage must be invalid")
	}
}
