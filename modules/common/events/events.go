package events

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"brand-camera-server/modules/common/model"
)

// Type - 스트림 이벤트 종류
type Type string

const (
	TypeStatus           Type = "status"
	TypeAnalysisComplete Type = "analysis_complete"
	TypeMaterialsReady   Type = "materials_ready"
	TypeProgress         Type = "progress"
	TypeImage            Type = "image"
	TypeImageError       Type = "image_error"
	TypeError            Type = "error"
	TypeComplete         Type = "complete"
)

// Terminal reports whether the stream ends after this event.
// error is only sent when the pipeline aborts before any slot ran.
func (t Type) Terminal() bool {
	return t == TypeComplete || t == TypeError
}

// Event is one message of the generation stream. Only the fields of its Type are set.
type Event struct {
	Type   Type   `json:"type"`
	Seq    int64  `json:"seq,omitempty"`
	TaskID string `json:"taskId,omitempty"`
	UserID string `json:"-"`

	Message    string          `json:"message,omitempty"`
	ProductTag json.RawMessage `json:"productTag,omitempty"`
	Models     []string        `json:"models,omitempty"`
	Scenes     []string        `json:"scenes,omitempty"`

	Index     *int            `json:"index,omitempty"`
	Image     string          `json:"image,omitempty"`
	ModelType model.ModelType `json:"modelType,omitempty"`
	GenMode   model.GenMode   `json:"genMode,omitempty"`
	ModelID   string          `json:"modelId,omitempty"`
	SceneID   string          `json:"sceneId,omitempty"`
	DbID      string          `json:"dbId,omitempty"`
	Error     string          `json:"error,omitempty"`

	Succeeded *int `json:"succeeded,omitempty"`
	Failed    *int `json:"failed,omitempty"`
}

func Status(message string) Event {
	return Event{Type: TypeStatus, Message: message}
}

// AnalysisComplete carries the product tag as produced by the analyzer.
func AnalysisComplete(tag interface{}) Event {
	raw, err := json.Marshal(tag)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️  [Events] Failed to encode product tag")
		raw = json.RawMessage(`{}`)
	}
	return Event{Type: TypeAnalysisComplete, ProductTag: raw}
}

func MaterialsReady(models, scenes []string) Event {
	return Event{Type: TypeMaterialsReady, Models: models, Scenes: scenes}
}

func Progress(index int) Event {
	return Event{Type: TypeProgress, Index: &index}
}

// ImageResult - image 이벤트 필드
type ImageResult struct {
	URL       string
	ModelType model.ModelType
	GenMode   model.GenMode
	ModelID   string
	SceneID   string
	DbID      string
}

func Image(index int, r ImageResult) Event {
	return Event{
		Type:      TypeImage,
		Index:     &index,
		Image:     r.URL,
		ModelType: r.ModelType,
		GenMode:   r.GenMode,
		ModelID:   r.ModelID,
		SceneID:   r.SceneID,
		DbID:      r.DbID,
	}
}

func ImageError(index int, reason string) Event {
	return Event{Type: TypeImageError, Index: &index, Error: reason}
}

func Error(reason string) Event {
	return Event{Type: TypeError, Error: reason}
}

func Complete(succeeded, failed int) Event {
	return Event{Type: TypeComplete, Succeeded: &succeeded, Failed: &failed}
}

// Sink receives every event of a task.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Publisher fans one task's events out to every sink. Safe for concurrent use
// as long as the sinks are.
type Publisher struct {
	taskID string
	userID string
	sinks  []Sink
}

// NewPublisher drops nil sinks.
func NewPublisher(taskID, userID string, sinks ...Sink) *Publisher {
	p := &Publisher{taskID: taskID, userID: userID}
	for _, s := range sinks {
		if s != nil {
			p.sinks = append(p.sinks, s)
		}
	}
	return p
}

// Publish never fails the caller: sink errors are logged.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	if p == nil {
		return
	}
	ev.TaskID = p.taskID
	ev.UserID = p.userID
	for _, s := range p.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			log.Debug().Err(err).Str("taskId", p.taskID).Msgf("📭 [Events] Sink dropped %s event", ev.Type)
		}
	}
}

// Bus holds the process-wide sinks shared by every request.
type Bus struct {
	sinks []Sink
}

func NewBus(sinks ...Sink) *Bus {
	b := &Bus{}
	for _, s := range sinks {
		if s != nil {
			b.sinks = append(b.sinks, s)
		}
	}
	return b
}

// For builds a task publisher with the shared sinks plus extra request-scoped ones.
func (b *Bus) For(taskID, userID string, extra ...Sink) *Publisher {
	var sinks []Sink
	if b != nil {
		sinks = append(sinks, b.sinks...)
	}
	sinks = append(sinks, extra...)
	return NewPublisher(taskID, userID, sinks...)
}
