package model

import "time"

// TaskType - 파이프라인 종류
type TaskType string

const (
	TaskLifestyle     TaskType = "lifestyle"
	TaskProStudio     TaskType = "pro_studio"
	TaskModelStudio   TaskType = "model_studio"
	TaskProductStudio TaskType = "product_studio"
	TaskTryOn         TaskType = "try_on"
	TaskEdit          TaskType = "edit"
)

// Status - task / slot 공통 상태
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ModelType - 결과 이미지를 만든 모델 (pro = primary, flash = fallback)
type ModelType string

const (
	ModelPro   ModelType = "pro"
	ModelFlash ModelType = "flash"
)

// GenMode - 프롬프트 전략
type GenMode string

const (
	GenSimple   GenMode = "simple"
	GenExtended GenMode = "extended"
)

// Valid reports whether m is a known mode.
func (m GenMode) Valid() bool {
	return m == GenSimple || m == GenExtended
}

// ImageSlot - task 안의 이미지 한 장
type ImageSlot struct {
	Index     int       `json:"index"`
	Status    Status    `json:"status"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	ModelType ModelType `json:"modelType,omitempty"`
	GenMode   GenMode   `json:"genMode,omitempty"`
	DbID      string    `json:"dbId,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// GenerationTask - 사용자가 제출한 배치 요청 하나
type GenerationTask struct {
	ID         string                 `json:"id"`
	Type       TaskType               `json:"type"`
	InputImage string                 `json:"inputImage,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty"`
	TotalSlots int                    `json:"totalSlots"`
	Status     Status                 `json:"status"`
	ImageSlots []ImageSlot            `json:"imageSlots"`
	Error      string                 `json:"error,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}

// GenerationRecord - generations 테이블 한 행 (task_id + image_index 유니크)
type GenerationRecord struct {
	ID            string                 `json:"id,omitempty"`
	TaskID        string                 `json:"task_id"`
	ImageIndex    int                    `json:"image_index"`
	UserID        string                 `json:"user_id"`
	Status        Status                 `json:"status"`
	ImageURL      string                 `json:"image_url,omitempty"`
	ModelType     ModelType              `json:"model_type,omitempty"`
	GenMode       GenMode                `json:"gen_mode,omitempty"`
	Prompt        string                 `json:"prompt,omitempty"`
	TaskType      TaskType               `json:"task_type,omitempty"`
	InputImageURL string                 `json:"input_image_url,omitempty"`
	InputParams   map[string]interface{} `json:"input_params,omitempty"`
	Error         string                 `json:"error,omitempty"`
	CreatedAt     *time.Time             `json:"created_at,omitempty"`
}

// Error codes returned by the generation endpoints
const (
	ErrCodeResourceBusy        = "RESOURCE_BUSY"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeMissingMaterial     = "MISSING_MATERIAL"
	ErrCodeUploadFailed        = "UPLOAD_FAILED"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeReservationNotFound = "RESERVATION_NOT_FOUND"
	ErrCodeTaskConflict        = "TASK_CONFLICT"

	// 라이프스타일 스트림의 error 이벤트
	ErrCodeAnalysisFailed = "ANALYSIS_FAILED"
	ErrCodeNoScenes       = "NO_SCENES"
	ErrCodeMatchFailed    = "MATCH_FAILED"
)
