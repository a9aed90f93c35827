package lifestyle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"brand-camera-server/modules/common/events"
	"brand-camera-server/modules/common/fallback"
	"brand-camera-server/modules/common/gemini"
	"brand-camera-server/modules/common/material"
	"brand-camera-server/modules/common/model"
	"brand-camera-server/modules/common/slot"
	"brand-camera-server/modules/common/utils"
)

const (
	lifestyleAspectRatio = "3:4"
	maxParallelFetches   = 8
)

// AbortError stops the pipeline before any slot runs. Code is what clients see.
type AbortError struct {
	Code    string
	Message string
}

func (e *AbortError) Error() string { return e.Message }

var (
	// ErrAnalysisFailed aborts the pipeline at stage 1.
	ErrAnalysisFailed = &AbortError{Code: model.ErrCodeAnalysisFailed, Message: "product analysis failed"}
	// ErrNoScenes aborts the pipeline at stage 2.
	ErrNoScenes = &AbortError{Code: model.ErrCodeNoScenes, Message: "no scene matches the product"}
	// ErrMatchFailed aborts the pipeline at stage 3.
	ErrMatchFailed = &AbortError{Code: model.ErrCodeMatchFailed, Message: "model and scene selection failed"}
)

// JSONGenerator - 구조화 응답을 내는 비전 모델 호출
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, parts []*genai.Part, out interface{}) error
}

// MaterialResolver - 참조 이미지 해석기
type MaterialResolver interface {
	Resolve(ctx context.Context, ref material.Ref) (*material.Material, bool)
}

// Job - 검증이 끝난 라이프스타일 요청
type Job struct {
	TaskID        string
	UserID        string
	Product       *material.Material
	ProductSource string
	ModelID       string
	SceneID       string
}

// Service runs the five-stage lifestyle pipeline.
type Service struct {
	vision    JSONGenerator
	resolver  MaterialResolver
	slots     slot.Deps
	catalog   *Catalog
	numImages int
}

func NewService(vision JSONGenerator, resolver MaterialResolver, slots slot.Deps, catalog *Catalog, numImages int) *Service {
	if numImages <= 0 {
		numImages = 4
	}
	return &Service{
		vision:    vision,
		resolver:  resolver,
		slots:     slots,
		catalog:   catalog,
		numImages: numImages,
	}
}

// NumImages - 요청당 생성 장수
func (s *Service) NumImages() int {
	return s.numImages
}

// Run executes analyze → filter → match → fetch → generate and publishes
// every step. The stream always ends with exactly one complete or error event.
func (s *Service) Run(ctx context.Context, job Job, pub *events.Publisher) Summary {
	start := time.Now()
	sum := Summary{TaskID: job.TaskID}
	logger := log.With().Str("taskId", job.TaskID).Str("userId", job.UserID).Logger()

	// Stage 1: 상품 분석
	pub.Publish(ctx, events.Status("Analyzing product..."))
	tag, err := s.analyze(ctx, job.Product)
	if err != nil {
		logger.Error().Err(err).Msg("❌ [Lifestyle] Stage 1 (analyze) failed")
		return s.abort(ctx, pub, sum, ErrAnalysisFailed)
	}
	logger.Info().Msgf("🏷️  [Lifestyle] Product tagged: %s upper=%s lower=%s onepiece=%s",
		tag.OutfitType, tag.UpperCategory, tag.LowerCategory, tag.OnepieceCategory)
	pub.Publish(ctx, events.AnalysisComplete(tag))

	// Stage 2: 씬 후보 필터
	scenes, rung := FilterScenes(tag, s.catalog.Scenes)
	if len(scenes) == 0 {
		logger.Error().Msgf("❌ [Lifestyle] Stage 2 (filter) found no scene for outfit_type=%q", tag.OutfitType)
		return s.abort(ctx, pub, sum, ErrNoScenes)
	}
	models := FilterModels(tag, s.catalog.Models)
	logger.Info().Msgf("🔎 [Lifestyle] %d scenes (rung %d), %d models", len(scenes), rung, len(models))

	// Stage 3: AI 선택 + 사용자 지정 덮어쓰기
	pub.Publish(ctx, events.Status("Selecting models and scenes..."))
	match, err := s.match(ctx, job.Product, tag, models, scenes)
	if err != nil {
		logger.Error().Err(err).Msg("❌ [Lifestyle] Stage 3 (match) failed")
		return s.abort(ctx, pub, sum, ErrMatchFailed)
	}
	plans := s.plan(match, job.ModelID, job.SceneID)
	modelIDs := make([]string, len(plans))
	sceneIDs := make([]string, len(plans))
	for i, p := range plans {
		modelIDs[i], sceneIDs[i] = p.ModelID, p.SceneID
	}
	pub.Publish(ctx, events.MaterialsReady(modelIDs, sceneIDs))

	// Stage 4: 소재 병렬 다운로드 (실패는 해당 슬롯만)
	pub.Publish(ctx, events.Status("Loading materials..."))
	s.fetchMaterials(ctx, plans)

	// Stage 5: 슬롯 병렬 생성
	pub.Publish(ctx, events.Status("Generating images..."))
	sum.Succeeded, sum.Failed = s.generate(ctx, job, tag, plans, pub)

	pub.Publish(ctx, events.Complete(sum.Succeeded, sum.Failed))
	logger.Info().Msgf("🏁 [Lifestyle] Done: %d succeeded, %d failed in %.1fs",
		sum.Succeeded, sum.Failed, time.Since(start).Seconds())
	return sum
}

func (s *Service) abort(ctx context.Context, pub *events.Publisher, sum Summary, reason *AbortError) Summary {
	sum.Aborted = true
	sum.Error = reason.Code
	pub.Publish(ctx, events.Error(reason.Code))
	return sum
}

func (s *Service) analyze(ctx context.Context, product *material.Material) (ProductTag, error) {
	var tag ProductTag
	parts := []*genai.Part{
		gemini.ImagePart(product.Data, product.MIMEType),
		gemini.TextPart(analyzePrompt),
	}
	if err := s.vision.GenerateJSON(ctx, parts, &tag); err != nil {
		return tag, err
	}
	tag.OutfitType = normalize(tag.OutfitType)
	if tag.OutfitType == "" {
		return tag, fmt.Errorf("%w: missing outfit_type", gemini.ErrUnparseable)
	}
	return tag, nil
}

func (s *Service) match(ctx context.Context, product *material.Material, tag ProductTag, models []ModelEntry, scenes []SceneTag) (MatchResult, error) {
	var res MatchResult
	parts := []*genai.Part{
		gemini.ImagePart(product.Data, product.MIMEType),
		gemini.TextPart(matchPrompt(tag, models, scenes, s.numImages)),
	}
	if err := s.vision.GenerateJSON(ctx, parts, &res); err != nil {
		return res, err
	}

	modelPool := make([]string, len(models))
	for i, m := range models {
		modelPool[i] = m.ID
	}
	scenePool := make([]string, len(scenes))
	for i, sc := range scenes {
		scenePool[i] = sc.ID
	}
	// 후보에 없는 id 는 버리고 모자라면 후보에서 채움
	res.ModelIDs = fallback.PadIDs(res.ModelIDs, modelPool, s.numImages)
	res.SceneIDs = fallback.PadIDs(res.SceneIDs, scenePool, s.numImages)
	return res, nil
}

// plan splices user selections over the AI choice.
func (s *Service) plan(match MatchResult, userModel, userScene string) []*slotPlan {
	plans := make([]*slotPlan, s.numImages)
	for i := range plans {
		p := &slotPlan{Index: i, ModelID: match.ModelIDs[i], SceneID: match.SceneIDs[i]}
		if userModel != "" {
			p.ModelID = userModel
		}
		if userScene != "" {
			p.SceneID = userScene
		}
		p.ModelRef = material.Parse(p.ModelID).WithCategory(material.CategoryLifestyleModels)
		p.SceneRef = material.Parse(p.SceneID).WithCategory(material.CategoryLifestyleScenes)
		plans[i] = p
	}
	return plans
}

func (s *Service) fetchMaterials(ctx context.Context, plans []*slotPlan) {
	var g errgroup.Group
	g.SetLimit(maxParallelFetches)
	for _, p := range plans {
		p := p
		g.Go(func() error {
			if m, ok := s.resolver.Resolve(ctx, p.ModelRef); ok {
				p.Model = m
			}
			return nil
		})
		g.Go(func() error {
			if m, ok := s.resolver.Resolve(ctx, p.SceneRef); ok {
				p.Scene = m
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) generate(ctx context.Context, job Job, tag ProductTag, plans []*slotPlan, pub *events.Publisher) (succeeded, failed int) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	inputParams := map[string]interface{}{
		"productTag": tag,
		"modelId":    job.ModelID,
		"sceneId":    job.SceneID,
	}

	for _, p := range plans {
		wg.Add(1)
		go func(p *slotPlan) {
			defer wg.Done()
			ok := s.runSlot(ctx, job, tag, p, inputParams, pub)
			mu.Lock()
			if ok {
				succeeded++
			} else {
				failed++
			}
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return succeeded, failed
}

func (s *Service) runSlot(ctx context.Context, job Job, tag ProductTag, p *slotPlan, inputParams map[string]interface{}, pub *events.Publisher) bool {
	pub.Publish(ctx, events.Progress(p.Index))

	sj := slot.Job{
		TaskID:      job.TaskID,
		UserID:      job.UserID,
		TaskType:    model.TaskLifestyle,
		Index:       p.Index,
		GenMode:     model.GenSimple,
		Options:     gemini.ImageOptions{AspectRatio: lifestyleAspectRatio},
		InputImage:  job.ProductSource,
		InputParams: inputParams,
	}

	if p.Model == nil || p.Scene == nil {
		what := "model image"
		if p.Model != nil {
			what = "scene image"
		}
		failure := slot.MissingMaterial(what)
		log.Warn().Str("taskId", job.TaskID).Int("index", p.Index).Msgf("⚠️  [Lifestyle] Slot skipped: %s", failure.Message)
		slot.Fail(ctx, s.slots.Records, sj, failure)
		pub.Publish(ctx, events.ImageError(p.Index, failure.Code))
		return false
	}

	modelData, modelMIME := utils.Downscale(p.Model.Data, utils.MaxReferenceSide)
	sceneData, sceneMIME := utils.Downscale(p.Scene.Data, utils.MaxReferenceSide)
	sj.Prompt = imagePrompt(tag, s.modelDescription(p.ModelID), s.sceneDescription(p.SceneID))
	sj.Parts = []*genai.Part{
		gemini.ImagePart(job.Product.Data, job.Product.MIMEType),
		gemini.ImagePart(modelData, modelMIME),
		gemini.ImagePart(sceneData, sceneMIME),
		gemini.TextPart(sj.Prompt),
	}

	res, err := slot.Run(ctx, s.slots, sj)
	if err != nil {
		pub.Publish(ctx, events.ImageError(p.Index, slot.AsFailure(err).Code))
		return false
	}
	pub.Publish(ctx, events.Image(p.Index, events.ImageResult{
		URL:       res.ImageURL,
		ModelType: res.ModelType,
		GenMode:   res.GenMode,
		ModelID:   p.ModelID,
		SceneID:   p.SceneID,
		DbID:      res.DbID,
	}))
	return true
}

func (s *Service) modelDescription(id string) string {
	for _, m := range s.catalog.Models {
		if m.ID == id {
			return m.Description
		}
	}
	return ""
}

func (s *Service) sceneDescription(id string) string {
	for _, sc := range s.catalog.Scenes {
		if sc.ID == id {
			return sc.Description
		}
	}
	return ""
}
