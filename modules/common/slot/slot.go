package slot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"brand-camera-server/modules/common/database"
	"brand-camera-server/modules/common/gemini"
	"brand-camera-server/modules/common/model"
	"brand-camera-server/modules/common/storage"
)

const persistTimeout = 30 * time.Second

// ImageGenerator is the failover image call.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, parts []*genai.Part, opts gemini.ImageOptions) (*gemini.ImageResult, error)
}

// Deps - 슬롯 실행에 필요한 협력자
type Deps struct {
	Images   ImageGenerator
	Uploader storage.Uploader
	Records  database.RecordWriter
}

// Gate admits a slot request only against credits reserved for its task.
type Gate interface {
	Admit(ctx context.Context, userID, taskID string, index int) error
}

// Job - 슬롯 하나의 생성 요청
type Job struct {
	TaskID      string
	UserID      string
	TaskType    model.TaskType
	Index       int
	GenMode     model.GenMode
	Prompt      string
	Parts       []*genai.Part
	Options     gemini.ImageOptions
	InputImage  string
	InputParams map[string]interface{}
}

// Result - 완료된 슬롯
type Result struct {
	Index     int
	ImageURL  string
	ModelType model.ModelType
	GenMode   model.GenMode
	Prompt    string
	DbID      string
	Duration  time.Duration
}

// Failure is a slot failure with its HTTP mapping.
type Failure struct {
	Status  int
	Code    string
	Message string
}

func (f *Failure) Error() string {
	if f.Message == "" {
		return f.Code
	}
	return f.Code + ": " + f.Message
}

func ResourceBusy(err error) *Failure {
	return &Failure{Status: http.StatusServiceUnavailable, Code: model.ErrCodeResourceBusy, Message: errMessage(err)}
}

func UploadFailed(err error) *Failure {
	return &Failure{Status: http.StatusInternalServerError, Code: model.ErrCodeUploadFailed, Message: errMessage(err)}
}

func MissingMaterial(what string) *Failure {
	return &Failure{Status: http.StatusBadRequest, Code: model.ErrCodeMissingMaterial, Message: what + " could not be resolved"}
}

func InvalidRequest(msg string) *Failure {
	return &Failure{Status: http.StatusBadRequest, Code: model.ErrCodeInvalidRequest, Message: msg}
}

func NotReserved(msg string) *Failure {
	return &Failure{Status: http.StatusPaymentRequired, Code: model.ErrCodeReservationNotFound, Message: msg}
}

func TaskConflict(err error) *Failure {
	return &Failure{Status: http.StatusConflict, Code: model.ErrCodeTaskConflict, Message: errMessage(err)}
}

func Internal(err error) *Failure {
	return &Failure{Status: http.StatusInternalServerError, Code: model.ErrCodeInternalError, Message: errMessage(err)}
}

// AsFailure converts any error into a Failure.
func AsFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, gemini.ErrResourceBusy) {
		return ResourceBusy(err)
	}
	return Internal(err)
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Run drives one slot through generating → completed | failed.
// Persistence steps run on a context detached from the caller so a closed
// connection does not lose an image that was already generated.
func Run(ctx context.Context, deps Deps, job Job) (*Result, error) {
	start := time.Now()
	logger := log.With().Str("taskId", job.TaskID).Int("index", job.Index).Str("taskType", string(job.TaskType)).Logger()

	img, err := deps.Images.GenerateImage(ctx, job.Parts, job.Options)
	if err != nil {
		failure := AsFailure(err)
		logger.Error().Err(err).Msg("❌ [Slot] Image generation failed")
		Fail(ctx, deps.Records, job, failure)
		return nil, failure
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	url, err := deps.Uploader.Upload(persistCtx, storage.Object{
		Data:     img.Data,
		MIMEType: img.MIMEType,
		OwnerID:  job.UserID,
		Name:     fmt.Sprintf("%s_%d", job.TaskID, job.Index),
	})
	if err != nil {
		failure := UploadFailed(err)
		logger.Error().Err(err).Msg("❌ [Slot] Image generated but not saved")
		Fail(persistCtx, deps.Records, job, failure)
		return nil, failure
	}

	rec := model.GenerationRecord{
		TaskID:     job.TaskID,
		ImageIndex: job.Index,
		UserID:     job.UserID,
		Status:     model.StatusCompleted,
		ImageURL:   url,
		ModelType:  img.Model,
		GenMode:    job.GenMode,
		Prompt:     job.Prompt,
		TaskType:   job.TaskType,
	}
	if job.Index == 0 {
		rec.InputParams = job.InputParams
		if job.InputImage != "" {
			inputURL, err := storage.UploadSource(persistCtx, deps.Uploader, job.InputImage, job.UserID, job.TaskID+"_input")
			if err != nil {
				logger.Warn().Err(err).Msg("⚠️  [Slot] Input image upload failed")
			}
			rec.InputImageURL = inputURL
		}
	}

	var dbID string
	if deps.Records != nil && job.TaskID != "" {
		dbID, err = deps.Records.AppendImage(persistCtx, rec)
		if errors.Is(err, database.ErrRecordOwnership) {
			logger.Warn().Str("userId", job.UserID).Msg("⚠️  [Slot] Task id belongs to another user, result withheld")
			return nil, TaskConflict(err)
		}
		if err != nil {
			// 이미지는 이미 URL 로 노출되므로 슬롯은 완료로 유지
			logger.Error().Err(err).Msg("⚠️  [Slot] Generation record write failed")
			dbID = ""
		}
	}

	res := &Result{
		Index:     job.Index,
		ImageURL:  url,
		ModelType: img.Model,
		GenMode:   job.GenMode,
		Prompt:    job.Prompt,
		DbID:      dbID,
		Duration:  time.Since(start),
	}
	logger.Info().Msgf("✅ [Slot] Completed with %s model in %.1fs", img.Model, res.Duration.Seconds())
	return res, nil
}

// Fail records a failed slot when the job belongs to a task.
func Fail(ctx context.Context, records database.RecordWriter, job Job, failure *Failure) {
	if records == nil || job.TaskID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := records.MarkFailed(ctx, job.TaskID, job.UserID, job.Index, failure.Code); err != nil {
		log.Warn().Err(err).Str("taskId", job.TaskID).Int("index", job.Index).Msg("⚠️  [Slot] markFailed write failed")
	}
}
