package taskstore

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"brand-camera-server/modules/common/events"
	"brand-camera-server/modules/common/model"
)

func TestSlotCountFixedForLifetime(t *testing.T) {
	s := New()
	task, err := s.Create(model.TaskProStudio, "", nil, 3)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(task.ImageSlots) != task.TotalSlots || task.Status != model.StatusPending {
		t.Fatalf("task = %+v", task)
	}

	if err := s.CompleteSlot(task.ID, 3, SlotResult{ImageURL: "x"}); !errors.Is(err, ErrSlotOutOfRange) {
		t.Fatalf("out of range err = %v", err)
	}
	if err := s.FailSlot(task.ID, -1, "x"); !errors.Is(err, ErrSlotOutOfRange) {
		t.Fatalf("negative index err = %v", err)
	}
	s.CompleteSlot(task.ID, 0, SlotResult{ImageURL: "a"})
	s.FailTask(task.ID, "boom")

	got, _ := s.Get(task.ID)
	if len(got.ImageSlots) != 3 || got.TotalSlots != 3 {
		t.Fatalf("slot count changed: %+v", got)
	}
	if _, err := s.Create(model.TaskEdit, "", nil, 0); !errors.Is(err, ErrInvalidSlotSize) {
		t.Fatalf("zero slots err = %v", err)
	}
}

func TestCompletedSlotIsWriteOnce(t *testing.T) {
	s := New()
	task, _ := s.Create(model.TaskLifestyle, "", nil, 2)

	s.CompleteSlot(task.ID, 1, SlotResult{ImageURL: "first", ModelType: model.ModelPro})
	s.CompleteSlot(task.ID, 1, SlotResult{ImageURL: "second", ModelType: model.ModelFlash})
	s.FailSlot(task.ID, 1, "late failure")
	s.Apply(task.ID, events.Image(1, events.ImageResult{URL: "third"}))

	got, _ := s.Get(task.ID)
	slot := got.ImageSlots[1]
	if slot.Status != model.StatusCompleted || slot.ImageURL != "first" || slot.ModelType != model.ModelPro || slot.Error != "" {
		t.Fatalf("slot = %+v", slot)
	}
}

func TestOutOfOrderCompletionLandsAtIndex(t *testing.T) {
	s := New()
	task, _ := s.Create(model.TaskLifestyle, "", nil, 4)

	var wg sync.WaitGroup
	for _, i := range []int{2, 3, 0, 1} {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Apply(task.ID, events.Progress(i))
			s.Apply(task.ID, events.Image(i, events.ImageResult{URL: "url-" + string(rune('a'+i))}))
		}(i)
	}
	wg.Wait()

	got, _ := s.Get(task.ID)
	for i, slot := range got.ImageSlots {
		if slot.Index != i || slot.ImageURL != "url-"+string(rune('a'+i)) {
			t.Fatalf("slot %d = %+v", i, slot)
		}
	}
	if got.Status != model.StatusCompleted {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestApplyStreamWithPartialFailure(t *testing.T) {
	s := New()
	task, _ := s.Create(model.TaskLifestyle, "", nil, 4)

	stream := []events.Event{
		events.Status("Analyzing product..."),
		events.Progress(0), events.Progress(1), events.Progress(2),
		events.Image(0, events.ImageResult{URL: "a"}),
		events.ImageError(1, model.ErrCodeResourceBusy),
		events.Image(2, events.ImageResult{URL: "c"}),
		events.Complete(2, 1),
	}
	for _, ev := range stream {
		if err := s.Apply(task.ID, ev); err != nil {
			t.Fatalf("Apply(%s): %v", ev.Type, err)
		}
	}

	got, _ := s.Get(task.ID)
	if got.Status != model.StatusCompleted {
		t.Fatalf("status = %s", got.Status)
	}
	want := []model.Status{model.StatusCompleted, model.StatusFailed, model.StatusCompleted, model.StatusFailed}
	for i, st := range want {
		if got.ImageSlots[i].Status != st {
			t.Fatalf("slot %d = %+v", i, got.ImageSlots[i])
		}
	}
	if got.ImageSlots[3].Error != incompleteReason {
		t.Fatalf("never-started slot error = %q", got.ImageSlots[3].Error)
	}
}

func TestRecordReplacesIncompletePlaceholder(t *testing.T) {
	s := New()
	task, _ := s.Create(model.TaskLifestyle, "", nil, 3)
	s.Apply(task.ID, events.Image(0, events.ImageResult{URL: "a"}))
	s.Apply(task.ID, events.Complete(1, 0))

	got, _ := s.Get(task.ID)
	if got.ImageSlots[1].Error != incompleteReason || got.ImageSlots[2].Error != incompleteReason {
		t.Fatalf("slots = %+v", got.ImageSlots)
	}

	s.CompleteSlot(task.ID, 1, SlotResult{ImageURL: "b", DbID: "db-1"})
	s.FailSlot(task.ID, 2, model.ErrCodeUploadFailed)
	s.CompleteSlot(task.ID, 0, SlotResult{ImageURL: "overwrite"})

	got, _ = s.Get(task.ID)
	if got.ImageSlots[1].Status != model.StatusCompleted || got.ImageSlots[1].ImageURL != "b" {
		t.Fatalf("slot 1 = %+v", got.ImageSlots[1])
	}
	if got.ImageSlots[2].Error != model.ErrCodeUploadFailed {
		t.Fatalf("slot 2 = %+v", got.ImageSlots[2])
	}
	if got.ImageSlots[0].ImageURL != "a" || got.Status != model.StatusCompleted {
		t.Fatalf("task = %+v", got)
	}
}

func TestAbortFailsTask(t *testing.T) {
	s := New()
	task, _ := s.Create(model.TaskLifestyle, "", nil, 2)
	s.Apply(task.ID, events.Status("Analyzing product..."))
	s.Apply(task.ID, events.Error(model.ErrCodeAnalysisFailed))

	got, _ := s.Get(task.ID)
	if got.Status != model.StatusFailed || got.Error != model.ErrCodeAnalysisFailed {
		t.Fatalf("task = %+v", got)
	}
	for _, slot := range got.ImageSlots {
		if slot.Status != model.StatusFailed {
			t.Fatalf("slot = %+v", slot)
		}
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	s := New()
	var mu sync.Mutex
	var seen []model.Status
	cancel := s.Subscribe(func(task model.GenerationTask) {
		mu.Lock()
		seen = append(seen, task.Status)
		mu.Unlock()
	})

	task, _ := s.Create(model.TaskEdit, "", nil, 1)
	s.Start(task.ID)
	cancel()
	s.CompleteSlot(task.ID, 0, SlotResult{ImageURL: "x"})

	if len(seen) != 2 || seen[0] != model.StatusPending || seen[1] != model.StatusGenerating {
		t.Fatalf("notifications = %v", seen)
	}
}

func TestListenerSnapshotsNeverGoBack(t *testing.T) {
	s := New()
	task, _ := s.Create(model.TaskProStudio, "", nil, 8)

	var seen []int
	cancel := s.Subscribe(func(task model.GenerationTask) {
		done := 0
		for _, slot := range task.ImageSlots {
			if slot.Status == model.StatusCompleted {
				done++
			}
		}
		seen = append(seen, done)
	})
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.SetSlotGenerating(task.ID, i)
			s.CompleteSlot(task.ID, i, SlotResult{ImageURL: "x"})
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("stale snapshot delivered after a newer one: %v", seen)
		}
	}
	if len(seen) == 0 || seen[len(seen)-1] != 8 {
		t.Fatalf("last snapshot = %v", seen)
	}
}

func TestRehydrateFromRecords(t *testing.T) {
	s := New()
	task, err := s.Rehydrate("t-old", model.TaskProStudio, []model.GenerationRecord{
		{ID: "r2", TaskID: "t-old", ImageIndex: 2, Status: model.StatusCompleted, ImageURL: "c"},
		{ID: "r0", TaskID: "t-old", ImageIndex: 0, Status: model.StatusCompleted, ImageURL: "a", InputImageURL: "in", InputParams: map[string]interface{}{"hasBg": true}},
		{TaskID: "t-old", ImageIndex: 1, Status: model.StatusFailed, Error: model.ErrCodeResourceBusy},
	})
	if err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if task.TotalSlots != 3 || task.Status != model.StatusCompleted || task.InputImage != "in" {
		t.Fatalf("task = %+v", task)
	}
	if task.ImageSlots[0].DbID != "r0" || task.ImageSlots[1].Error != model.ErrCodeResourceBusy || task.ImageSlots[2].ImageURL != "c" {
		t.Fatalf("slots = %+v", task.ImageSlots)
	}
	if _, err := s.Rehydrate("none", model.TaskEdit, nil); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("empty rehydrate err = %v", err)
	}
}

func TestFilePersisterKeepsTasksAcrossStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tasks.json")

	s := New(WithPersister(NewFilePersister(path)))
	task, _ := s.Create(model.TaskProductStudio, "https://cdn.test/in.png", map[string]interface{}{"type": "product"}, 2)
	s.CompleteSlot(task.ID, 0, SlotResult{ImageURL: "done"})

	reloaded := New(WithPersister(NewFilePersister(path)))
	got, ok := reloaded.Get(task.ID)
	if !ok {
		t.Fatal("task not persisted")
	}
	if got.ImageSlots[0].ImageURL != "done" || got.ImageSlots[1].Status != model.StatusPending {
		t.Fatalf("reloaded = %+v", got)
	}

	reloaded.Remove(task.ID)
	if _, ok := New(WithPersister(NewFilePersister(path))).Get(task.ID); ok {
		t.Fatal("removed task still persisted")
	}
}
