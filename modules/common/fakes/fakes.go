// Package fakes holds in-memory collaborators for handler and pipeline tests.
package fakes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"google.golang.org/genai"

	"brand-camera-server/modules/common/database"
	"brand-camera-server/modules/common/gemini"
	"brand-camera-server/modules/common/material"
	"brand-camera-server/modules/common/model"
	"brand-camera-server/modules/common/storage"
)

// Images answers GenerateImage. Fail decides per call whether to return ErrResourceBusy.
type Images struct {
	mu    sync.Mutex
	Calls int
	Parts [][]*genai.Part
	Model model.ModelType
	Fail  func(call int, parts []*genai.Part) bool
}

func (f *Images) GenerateImage(_ context.Context, parts []*genai.Part, _ gemini.ImageOptions) (*gemini.ImageResult, error) {
	f.mu.Lock()
	f.Calls++
	call := f.Calls
	f.Parts = append(f.Parts, parts)
	fail := f.Fail
	f.mu.Unlock()

	if fail != nil && fail(call, parts) {
		return nil, fmt.Errorf("%w: primary: boom; fallback: boom", gemini.ErrResourceBusy)
	}
	m := f.Model
	if m == "" {
		m = model.ModelPro
	}
	return &gemini.ImageResult{Data: []byte("generated"), MIMEType: "image/jpeg", Model: m}, nil
}

// Vision answers GenerateText and GenerateJSON.
type Vision struct {
	mu        sync.Mutex
	TextCalls int
	JSONCalls int
	Text      string
	TextErr   error
	// JSON returns the raw JSON for the n-th JSON call (1-based).
	JSON func(call int) (string, error)
}

func (f *Vision) GenerateText(_ context.Context, _ []*genai.Part) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TextCalls++
	return f.Text, f.TextErr
}

func (f *Vision) GenerateJSON(_ context.Context, _ []*genai.Part, out interface{}) error {
	f.mu.Lock()
	f.JSONCalls++
	call := f.JSONCalls
	fn := f.JSON
	f.mu.Unlock()
	if fn == nil {
		return errors.New("no JSON configured")
	}
	raw, err := fn(call)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}

// Uploader records uploads and returns deterministic URLs.
type Uploader struct {
	mu      sync.Mutex
	Objects []storage.Object
	Err     error
}

func (f *Uploader) Upload(_ context.Context, obj storage.Object) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	f.Objects = append(f.Objects, obj)
	return "https://cdn.test/" + obj.Name + ".webp", nil
}

// Records is an in-memory RecordWriter / RecordReader keyed by (task, index).
type Records struct {
	mu        sync.Mutex
	Rows      map[string]model.GenerationRecord
	Failed    []int
	AppendErr error
	seq       int
}

func NewRecords() *Records {
	return &Records{Rows: map[string]model.GenerationRecord{}}
}

func key(taskID string, index int) string { return fmt.Sprintf("%s/%d", taskID, index) }

func (f *Records) AppendImage(_ context.Context, rec model.GenerationRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AppendErr != nil {
		return "", f.AppendErr
	}
	if !f.owns(rec.TaskID, rec.ImageIndex, rec.UserID) {
		return "", database.ErrRecordOwnership
	}
	f.seq++
	rec.ID = fmt.Sprintf("db-%d", f.seq)
	f.Rows[key(rec.TaskID, rec.ImageIndex)] = rec
	return rec.ID, nil
}

func (f *Records) MarkFailed(_ context.Context, taskID, userID string, index int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.owns(taskID, index, userID) {
		return database.ErrRecordOwnership
	}
	f.Failed = append(f.Failed, index)
	f.Rows[key(taskID, index)] = model.GenerationRecord{
		TaskID: taskID, UserID: userID, ImageIndex: index, Status: model.StatusFailed, Error: reason,
	}
	return nil
}

func (f *Records) ListTask(_ context.Context, taskID, userID string) ([]model.GenerationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.GenerationRecord
	for _, r := range f.Rows {
		if r.TaskID == taskID && r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ImageIndex < out[j].ImageIndex })
	return out, nil
}

func (f *Records) owns(taskID string, index int, userID string) bool {
	r, ok := f.Rows[key(taskID, index)]
	return !ok || r.UserID == userID
}

// Row returns the stored record.
func (f *Records) Row(taskID string, index int) (model.GenerationRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.Rows[key(taskID, index)]
	return r, ok
}

// FailedIndexes returns a sorted copy.
func (f *Records) FailedIndexes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]int(nil), f.Failed...)
	sort.Ints(out)
	return out
}

// Resolver resolves references from memory. A material's data is the
// reference's value, or "random:{category}" for random picks.
type Resolver struct {
	mu      sync.Mutex
	Missing map[string]bool
	Refs    []material.Ref
}

func (f *Resolver) Resolve(_ context.Context, ref material.Ref) (*material.Material, bool) {
	f.mu.Lock()
	f.Refs = append(f.Refs, ref)
	f.mu.Unlock()

	var data string
	switch ref.Kind() {
	case material.KindUnspecified:
		return nil, false
	case material.KindRandom:
		data = "random:" + ref.Category()
	default:
		data = ref.Value()
	}
	if f.Missing[data] {
		return nil, false
	}
	return &material.Material{Data: []byte(data), MIMEType: "image/png"}, true
}

// AlwaysFail makes every image call fail.
func AlwaysFail(int, []*genai.Part) bool { return true }

// PartsContain reports whether any text or inline data part contains s.
func PartsContain(parts []*genai.Part, s string) bool {
	for _, p := range parts {
		if p == nil {
			continue
		}
		if strings.Contains(p.Text, s) {
			return true
		}
		if p.InlineData != nil && strings.Contains(string(p.InlineData.Data), s) {
			return true
		}
	}
	return false
}
