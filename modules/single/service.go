package single

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

// MaterialResolver - 참조 이미지 해석기
type MaterialResolver interface {
	Resolve(ctx context.Context, ref material.Ref) (*material.Material, bool)
}

// Service generates one product or model shot.
type Service struct {
	vision   prompt.TextGenerator
	resolver MaterialResolver
	slots    slot.Deps
}

func NewService(vision prompt.TextGenerator, resolver MaterialResolver, slots slot.Deps) *Service {
	return &Service{vision: vision, resolver: resolver, slots: slots}
}

func (s *Service) Generate(ctx context.Context, userID string, req GenerateRequest) (*slot.Result, error) {
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	if req.Type != TypeProduct && req.Type != TypeModel {
		return nil, slot.InvalidRequest("type must be product or model")
	}
	if !req.ProductImage.IsSpecified() {
		return nil, slot.InvalidRequest("productImage is required")
	}
	if req.Type == TypeModel && !req.ModelImage.IsSpecified() {
		return nil, slot.InvalidRequest("modelImage is required for model shots")
	}

	mode := req.genMode()
	job := slot.Job{
		TaskID:   req.TaskID,
		UserID:   userID,
		TaskType: req.taskType(),
		Index:    req.Index,
		GenMode:  mode,
		Options:  gemini.ImageOptions{AspectRatio: fallback.SafeAspectRatio(req.AspectRatio)},
	}

	var (
		product, modelImg, background *material.Material
		items                         = make([]*material.Material, len(req.OutfitItems))
		g                             errgroup.Group
	)
	g.Go(func() error { product, _ = s.resolver.Resolve(ctx, req.ProductImage); return nil })
	if req.Type == TypeModel {
		g.Go(func() error { modelImg, _ = s.resolver.Resolve(ctx, req.ModelImage); return nil })
		for i, it := range req.OutfitItems {
			i, it := i, it
			g.Go(func() error { items[i], _ = s.resolver.Resolve(ctx, it.Image); return nil })
		}
	}
	if req.BackgroundImage.IsSpecified() {
		g.Go(func() error { background, _ = s.resolver.Resolve(ctx, req.BackgroundImage); return nil })
	}
	_ = g.Wait()

	var failure *slot.Failure
	switch {
	case product == nil:
		failure = slot.MissingMaterial("product image")
	case req.Type == TypeModel && modelImg == nil:
		failure = slot.MissingMaterial("model image")
	case req.BackgroundImage.IsSpecified() && background == nil:
		failure = slot.MissingMaterial("background image")
	}
	if failure == nil && req.Type == TypeModel {
		for i, m := range items {
			if m == nil {
				failure = slot.MissingMaterial("outfit item " + req.OutfitItems[i].Category)
				break
			}
		}
	}
	if failure != nil {
		slot.Fail(ctx, s.slots.Records, job, failure)
		return nil, failure
	}

	refs := []*genai.Part{referencePart(product)}
	var extra []string
	if req.Type == TypeModel {
		for i, m := range items {
			refs = append(refs, referencePart(m))
			if c := strings.TrimSpace(req.OutfitItems[i].Category); c != "" {
				extra = append(extra, strings.ToLower(c))
			}
		}
		refs = append(refs, referencePart(modelImg))
	}
	hasBg := background != nil
	if hasBg {
		refs = append(refs, referencePart(background))
	}

	var instr *prompt.Instruction
	if mode == model.GenExtended {
		composed := prompt.Compose(ctx, s.vision, InstructionRequest(req.Type, hasBg), refs, fallback.DefaultInstructions)
		instr = &composed
	}
	job.Prompt = Build(req.Type, extra, hasBg, instr)
	job.Parts = append(refs, gemini.TextPart(job.Prompt))

	params := map[string]interface{}{}
	for k, v := range req.InputParams {
		params[k] = v
	}
	params["type"] = req.Type
	params["simpleMode"] = mode == model.GenSimple
	params["hasBg"] = hasBg
	job.InputParams = params
	if k := req.ProductImage.Kind(); k == material.KindInline || k == material.KindURL {
		job.InputImage = req.ProductImage.Value()
	}

	log.Info().Str("taskId", req.TaskID).Int("index", req.Index).
		Msgf("📸 [Single] Generating %s shot (%s, bg=%v)", req.Type, mode, hasBg)
	return slot.Run(ctx, s.slots, job)
}

func referencePart(m *material.Material) *genai.Part {
	data, mimeType := utils.Downscale(m.Data, utils.MaxReferenceSide)
	return gemini.ImagePart(data, mimeType)
}
