// Package taskstore tracks generation tasks on the client side. Slots are
// addressed by index and a completed slot is never overwritten, so events may
// arrive in any order and more than once.
package taskstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"brand-camera-server/modules/common/events"
	"brand-camera-server/modules/common/model"
)

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrSlotOutOfRange  = errors.New("slot index out of range")
	ErrInvalidSlotSize = errors.New("totalSlots must be positive")
)

// incompleteReason is set on slots still open when the stream completes.
const incompleteReason = "INCOMPLETE"

// SlotResult - 완료된 슬롯 데이터
type SlotResult struct {
	ImageURL  string
	ModelType model.ModelType
	GenMode   model.GenMode
	DbID      string
}

// Persister saves the task list between runs.
type Persister interface {
	Load() ([]model.GenerationTask, error)
	Save(tasks []model.GenerationTask) error
}

// Listener receives a snapshot after every change. Calls are serialized and
// never go back in time for a task. A listener must not modify the store.
type Listener func(task model.GenerationTask)

// Store - 클라이언트 측 task 레지스트리
type Store struct {
	mu        sync.RWMutex
	tasks     map[string]*model.GenerationTask
	listeners map[int]Listener
	nextID    int
	version   uint64
	notifyMu  sync.Mutex
	delivered map[string]uint64
	persister Persister
	saveMu    sync.Mutex
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPersister saves after every change and loads on creation.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithClock is used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		tasks:     map[string]*model.GenerationTask{},
		listeners: map[int]Listener{},
		delivered: map[string]uint64{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.persister != nil {
		tasks, err := s.persister.Load()
		if err != nil {
			log.Warn().Err(err).Msg("⚠️  [TaskStore] Failed to load persisted tasks")
		}
		for i := range tasks {
			t := tasks[i]
			if len(t.ImageSlots) != t.TotalSlots {
				log.Warn().Str("taskId", t.ID).Msg("⚠️  [TaskStore] Dropping persisted task with inconsistent slots")
				continue
			}
			s.tasks[t.ID] = &t
		}
	}
	return s
}

// Create registers a task before any network call. The task starts pending.
func (s *Store) Create(taskType model.TaskType, inputImage string, params map[string]interface{}, totalSlots int) (model.GenerationTask, error) {
	if totalSlots <= 0 {
		return model.GenerationTask{}, ErrInvalidSlotSize
	}
	now := s.now()
	t := &model.GenerationTask{
		ID:         uuid.NewString(),
		Type:       taskType,
		InputImage: inputImage,
		Params:     params,
		TotalSlots: totalSlots,
		Status:     model.StatusPending,
		ImageSlots: make([]model.ImageSlot, totalSlots),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i := range t.ImageSlots {
		t.ImageSlots[i] = model.ImageSlot{Index: i, Status: model.StatusPending}
	}

	s.mu.Lock()
	s.tasks[t.ID] = t
	snap := clone(t)
	version := s.bump()
	s.mu.Unlock()

	s.changed(snap, version)
	return snap, nil
}

// Start moves a pending task to generating.
func (s *Store) Start(taskID string) error {
	return s.update(taskID, func(t *model.GenerationTask) bool {
		if t.Status != model.StatusPending {
			return false
		}
		t.Status = model.StatusGenerating
		return true
	})
}

// SetSlotGenerating marks a pending slot as in progress.
func (s *Store) SetSlotGenerating(taskID string, index int) error {
	return s.updateSlot(taskID, index, func(t *model.GenerationTask, slot *model.ImageSlot) bool {
		if slot.Status != model.StatusPending {
			return false
		}
		slot.Status = model.StatusGenerating
		if t.Status == model.StatusPending {
			t.Status = model.StatusGenerating
		}
		return true
	})
}

// CompleteSlot stores the result once. Later results for the same slot are
// ignored, except over an INCOMPLETE placeholder which a real result replaces.
func (s *Store) CompleteSlot(taskID string, index int, res SlotResult) error {
	return s.updateSlot(taskID, index, func(t *model.GenerationTask, slot *model.ImageSlot) bool {
		if slot.Status.Terminal() && !placeholder(slot) {
			log.Debug().Str("taskId", taskID).Int("index", index).Msgf("[TaskStore] Ignoring result for %s slot", slot.Status)
			return false
		}
		slot.Status = model.StatusCompleted
		slot.ImageURL = res.ImageURL
		slot.ModelType = res.ModelType
		slot.GenMode = res.GenMode
		slot.DbID = res.DbID
		slot.Error = ""
		return true
	})
}

// FailSlot marks an open slot failed.
func (s *Store) FailSlot(taskID string, index int, reason string) error {
	return s.updateSlot(taskID, index, func(t *model.GenerationTask, slot *model.ImageSlot) bool {
		if slot.Status.Terminal() && !placeholder(slot) {
			return false
		}
		if reason == "" {
			reason = model.ErrCodeInternalError
		}
		slot.Status = model.StatusFailed
		slot.Error = reason
		return true
	})
}

// FailTask aborts the task: every open slot fails with reason.
func (s *Store) FailTask(taskID, reason string) error {
	return s.update(taskID, func(t *model.GenerationTask) bool {
		if t.Status.Terminal() {
			return false
		}
		for i := range t.ImageSlots {
			if !t.ImageSlots[i].Status.Terminal() {
				t.ImageSlots[i].Status = model.StatusFailed
				t.ImageSlots[i].Error = reason
			}
		}
		t.Error = reason
		t.Status = model.StatusFailed
		return true
	})
}

// Finish closes every slot still open; used when a stream ends.
func (s *Store) Finish(taskID string) error {
	return s.update(taskID, func(t *model.GenerationTask) bool {
		changed := false
		for i := range t.ImageSlots {
			if !t.ImageSlots[i].Status.Terminal() {
				t.ImageSlots[i].Status = model.StatusFailed
				t.ImageSlots[i].Error = incompleteReason
				changed = true
			}
		}
		return settle(t) || changed
	})
}

// Apply maps one stream event onto the task.
func (s *Store) Apply(taskID string, ev events.Event) error {
	switch ev.Type {
	case events.TypeProgress:
		if ev.Index == nil {
			return nil
		}
		return s.SetSlotGenerating(taskID, *ev.Index)
	case events.TypeImage:
		if ev.Index == nil {
			return fmt.Errorf("image event without index")
		}
		return s.CompleteSlot(taskID, *ev.Index, SlotResult{
			ImageURL:  ev.Image,
			ModelType: ev.ModelType,
			GenMode:   ev.GenMode,
			DbID:      ev.DbID,
		})
	case events.TypeImageError:
		if ev.Index == nil {
			return fmt.Errorf("image_error event without index")
		}
		return s.FailSlot(taskID, *ev.Index, ev.Error)
	case events.TypeError:
		return s.FailTask(taskID, ev.Error)
	case events.TypeComplete:
		return s.Finish(taskID)
	case events.TypeStatus, events.TypeAnalysisComplete, events.TypeMaterialsReady:
		return s.Start(taskID)
	}
	return nil
}

// Get returns a copy of the task.
func (s *Store) Get(taskID string) (model.GenerationTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return model.GenerationTask{}, false
	}
	return clone(t), true
}

// List returns copies, newest first.
func (s *Store) List() []model.GenerationTask {
	s.mu.RLock()
	out := make([]model.GenerationTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, clone(t))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Remove deletes a task from the store.
func (s *Store) Remove(taskID string) {
	s.mu.Lock()
	delete(s.tasks, taskID)
	s.mu.Unlock()
	s.notifyMu.Lock()
	delete(s.delivered, taskID)
	s.notifyMu.Unlock()
	s.persist()
}

// Subscribe registers fn and returns its cancel function.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Rehydrate builds a display-only task from durable records. It never resumes work.
func (s *Store) Rehydrate(taskID string, taskType model.TaskType, records []model.GenerationRecord) (model.GenerationTask, error) {
	total := 0
	for _, r := range records {
		if r.ImageIndex+1 > total {
			total = r.ImageIndex + 1
		}
	}
	if total == 0 {
		return model.GenerationTask{}, ErrTaskNotFound
	}

	now := s.now()
	t := &model.GenerationTask{
		ID:         taskID,
		Type:       taskType,
		TotalSlots: total,
		Status:     model.StatusGenerating,
		ImageSlots: make([]model.ImageSlot, total),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i := range t.ImageSlots {
		t.ImageSlots[i] = model.ImageSlot{Index: i, Status: model.StatusFailed, Error: incompleteReason}
	}
	for _, r := range records {
		if r.ImageIndex < 0 {
			continue
		}
		slot := &t.ImageSlots[r.ImageIndex]
		if r.Status == model.StatusFailed {
			if slot.Status != model.StatusCompleted {
				slot.Error = r.Error
			}
			continue
		}
		*slot = model.ImageSlot{Index: r.ImageIndex, Status: model.StatusCompleted, ImageURL: r.ImageURL, ModelType: r.ModelType, GenMode: r.GenMode, DbID: r.ID}
		if r.ImageIndex == 0 {
			t.InputImage = r.InputImageURL
			t.Params = r.InputParams
		}
		if r.TaskType != "" {
			t.Type = r.TaskType
		}
	}
	settle(t)

	s.mu.Lock()
	s.tasks[t.ID] = t
	snap := clone(t)
	version := s.bump()
	s.mu.Unlock()
	s.changed(snap, version)
	return snap, nil
}

func (s *Store) update(taskID string, fn func(t *model.GenerationTask) bool) error {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return ErrTaskNotFound
	}
	if !fn(t) {
		s.mu.Unlock()
		return nil
	}
	t.UpdatedAt = s.now()
	snap := clone(t)
	version := s.bump()
	s.mu.Unlock()

	s.changed(snap, version)
	return nil
}

func (s *Store) updateSlot(taskID string, index int, fn func(t *model.GenerationTask, slot *model.ImageSlot) bool) error {
	var rangeErr error
	err := s.update(taskID, func(t *model.GenerationTask) bool {
		if index < 0 || index >= len(t.ImageSlots) {
			rangeErr = fmt.Errorf("%w: %d of %d", ErrSlotOutOfRange, index, len(t.ImageSlots))
			return false
		}
		if !fn(t, &t.ImageSlots[index]) {
			return false
		}
		settle(t)
		return true
	})
	if err != nil {
		return err
	}
	return rangeErr
}

// placeholder reports a slot closed without any result of its own.
func placeholder(slot *model.ImageSlot) bool {
	return slot.Status == model.StatusFailed && slot.Error == incompleteReason
}

// settle derives the task status once every slot is terminal.
func settle(t *model.GenerationTask) bool {
	completed := 0
	for _, slot := range t.ImageSlots {
		if !slot.Status.Terminal() {
			return false
		}
		if slot.Status == model.StatusCompleted {
			completed++
		}
	}
	before := t.Status
	if completed == 0 {
		t.Status = model.StatusFailed
	} else {
		t.Status = model.StatusCompleted
	}
	return before != t.Status
}

// bump must be called with s.mu held.
func (s *Store) bump() uint64 {
	s.version++
	return s.version
}

// changed delivers snap unless a newer snapshot of the same task already went out.
func (s *Store) changed(snap model.GenerationTask, version uint64) {
	s.notifyMu.Lock()
	if version <= s.delivered[snap.ID] {
		s.notifyMu.Unlock()
		return
	}
	s.delivered[snap.ID] = version

	s.mu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(snap)
	}
	s.notifyMu.Unlock()
	s.persist()
}

func (s *Store) persist() {
	if s.persister == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if err := s.persister.Save(s.List()); err != nil {
		log.Warn().Err(err).Msg("⚠️  [TaskStore] Failed to persist tasks")
	}
}

func clone(t *model.GenerationTask) model.GenerationTask {
	c := *t
	c.ImageSlots = append([]model.ImageSlot(nil), t.ImageSlots...)
	if t.Params != nil {
		c.Params = make(map[string]interface{}, len(t.Params))
		for k, v := range t.Params {
			c.Params[k] = v
		}
	}
	return c
}
