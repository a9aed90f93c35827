package prostudio

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"brand-camera-server/modules/common/fallback"
	"brand-camera-server/modules/common/gemini"
	"brand-camera-server/modules/common/material"
	"brand-camera-server/modules/common/model"
	"brand-camera-server/modules/common/prompt"
	"brand-camera-server/modules/common/slot"
	"brand-camera-server/modules/common/utils"
)

const (
	// 아이템이 이보다 많으면 하나의 grid 이미지로 합침
	maxSeparateItems = 3
	gridCellSide     = 1024
)

// MaterialResolver - 참조 이미지 해석기
type MaterialResolver interface {
	Resolve(ctx context.Context, ref material.Ref) (*material.Material, bool)
}

// Service generates one pro-studio slot.
type Service struct {
	vision   prompt.TextGenerator
	resolver MaterialResolver
	slots    slot.Deps
}

func NewService(vision prompt.TextGenerator, resolver MaterialResolver, slots slot.Deps) *Service {
	return &Service{vision: vision, resolver: resolver, slots: slots}
}

type materials struct {
	items      []*material.Material
	categories []string
	model      *material.Material
	background *material.Material
}

// Generate validates, resolves materials, builds the prompt and runs the slot.
func (s *Service) Generate(ctx context.Context, userID string, req GenerateRequest) (*slot.Result, error) {
	mode := req.Mode
	if mode == "" {
		mode = model.GenSimple
	}
	if !mode.Valid() {
		return nil, slot.InvalidRequest("mode must be simple or extended")
	}
	items := req.items()
	if len(items) == 0 {
		return nil, slot.InvalidRequest("at least one outfit item or product image is required")
	}
	if !req.modelRef().IsSpecified() {
		return nil, slot.InvalidRequest("modelImage is required")
	}

	job := slot.Job{
		TaskID:   req.TaskID,
		UserID:   userID,
		TaskType: model.TaskProStudio,
		Index:    req.Index,
		GenMode:  mode,
		Options:  gemini.ImageOptions{AspectRatio: fallback.SafeAspectRatio(req.AspectRatio)},
	}

	mats, failure := s.resolveAll(ctx, req, items)
	if failure != nil {
		slot.Fail(ctx, s.slots.Records, job, failure)
		return nil, failure
	}
	hasBg := mats.background != nil

	refs, merged := s.referenceParts(mats)
	var text string
	if mode == model.GenExtended {
		instr := prompt.Compose(ctx, s.vision, InstructionRequest(mats.categories, hasBg), refs, fallback.DefaultInstructions)
		text = ExtendedPrompt(instr, mats.categories, merged, hasBg, req.CustomPrompt)
	} else {
		text = SimplePrompt(mats.categories, merged, hasBg, req.CustomPrompt)
	}

	job.Prompt = text
	job.Parts = append(refs, gemini.TextPart(text))
	job.InputImage = inputSource(items[0].Image)
	job.InputParams = map[string]interface{}{
		"mode":          string(mode),
		"hasBg":         hasBg,
		"modelIsRandom": req.ModelIsRandom,
		"bgIsRandom":    req.BgIsRandom,
		"itemCount":     len(items),
		"categories":    mats.categories,
	}

	log.Info().Str("taskId", req.TaskID).Int("index", req.Index).
		Msgf("📸 [ProStudio] Generating (%s, %d items, bg=%v)", mode, len(items), hasBg)
	return slot.Run(ctx, s.slots, job)
}

func (s *Service) resolveAll(ctx context.Context, req GenerateRequest, items []OutfitItem) (*materials, *slot.Failure) {
	mats := &materials{
		items:      make([]*material.Material, len(items)),
		categories: make([]string, len(items)),
	}
	bgRef := req.backgroundRef()

	var g errgroup.Group
	for i, it := range items {
		i, it := i, it
		mats.categories[i] = category(it.Category)
		g.Go(func() error {
			mats.items[i], _ = s.resolver.Resolve(ctx, it.Image)
			return nil
		})
	}
	g.Go(func() error {
		mats.model, _ = s.resolver.Resolve(ctx, req.modelRef())
		return nil
	})
	if bgRef.IsSpecified() {
		g.Go(func() error {
			mats.background, _ = s.resolver.Resolve(ctx, bgRef)
			return nil
		})
	}
	_ = g.Wait()

	for i, m := range mats.items {
		if m == nil {
			return nil, slot.MissingMaterial("outfit item " + mats.categories[i])
		}
	}
	if mats.model == nil {
		return nil, slot.MissingMaterial("model image")
	}
	// 요청한 배경을 못 가져오면 배경 없이 진행하지 않음
	if bgRef.IsSpecified() && mats.background == nil {
		return nil, slot.MissingMaterial("background image")
	}
	return mats, nil
}

// referenceParts orders items, model, background; more than three items become one grid.
func (s *Service) referenceParts(mats *materials) ([]*genai.Part, bool) {
	var parts []*genai.Part
	merged := false

	if len(mats.items) > maxSeparateItems {
		raw := make([][]byte, len(mats.items))
		for i, m := range mats.items {
			raw[i] = m.Data
		}
		grid, err := utils.MergeGrid(raw, gridCellSide)
		if err == nil {
			parts = append(parts, gemini.ImagePart(grid, utils.DetectMIME(grid)))
			merged = true
		} else {
			log.Warn().Err(err).Msg("⚠️  [ProStudio] Grid merge failed, sending items separately")
		}
	}
	if !merged {
		for _, m := range mats.items {
			data, mimeType := utils.Downscale(m.Data, utils.MaxReferenceSide)
			parts = append(parts, gemini.ImagePart(data, mimeType))
		}
	}

	data, mimeType := utils.Downscale(mats.model.Data, utils.MaxReferenceSide)
	parts = append(parts, gemini.ImagePart(data, mimeType))
	if mats.background != nil {
		data, mimeType = utils.Downscale(mats.background.Data, utils.MaxReferenceSide)
		parts = append(parts, gemini.ImagePart(data, mimeType))
	}
	return parts, merged
}

func category(c string) string {
	if c = strings.TrimSpace(c); c == "" {
		return "product"
	}
	return strings.ToLower(c)
}

// inputSource - index 0 에 저장할 원본 입력 (URL 또는 base64)
func inputSource(ref material.Ref) string {
	switch ref.Kind() {
	case material.KindInline, material.KindURL:
		return ref.Value()
	}
	return ""
}
