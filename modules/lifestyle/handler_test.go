package lifestyle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/genai"

	"brand-camera-server/modules/common/auth"
	"brand-camera-server/modules/common/credit"
	"brand-camera-server/modules/common/events"
	"brand-camera-server/modules/common/fakes"
	"brand-camera-server/modules/common/material"
	"brand-camera-server/modules/common/model"
	"brand-camera-server/modules/common/slot"
)

// presetResolver serves every reference from memory; data is the reference id.
type presetResolver struct {
	missing map[string]bool
}

func (r presetResolver) Resolve(_ context.Context, ref material.Ref) (*material.Material, bool) {
	switch ref.Kind() {
	case material.KindInline, material.KindURL:
		return &material.Material{Data: []byte("product"), MIMEType: "image/png"}, true
	case material.KindPreset:
		if r.missing[ref.Value()] {
			return nil, false
		}
		return &material.Material{Data: []byte(ref.Category() + ":" + ref.Value()), MIMEType: "image/jpeg"}, true
	}
	return nil, false
}

const dressTag = `{"outfit_type":"one_piece","onepiece_category":"dress","gender":"female","style":"romantic"}`

type harness struct {
	vision   *fakes.Vision
	images   *fakes.Images
	uploader *fakes.Uploader
	records  *fakes.Records
	ledger   *credit.MemoryLedger
	handler  *Handler
}

func newHarness(t *testing.T, resolver MaterialResolver, match string) *harness {
	t.Helper()
	catalog, err := DefaultCatalog()
	if err != nil {
		t.Fatalf("DefaultCatalog: %v", err)
	}
	h := &harness{
		vision: &fakes.Vision{JSON: func(call int) (string, error) {
			if call == 1 {
				return dressTag, nil
			}
			return match, nil
		}},
		images:   &fakes.Images{},
		uploader: &fakes.Uploader{},
		records:  fakes.NewRecords(),
		ledger:   credit.NewMemoryLedger(1, map[string]int{"user-1": 10}),
	}
	svc := NewService(h.vision, resolver, slot.Deps{Images: h.images, Uploader: h.uploader, Records: h.records}, catalog, 4)
	h.handler = NewHandler(svc, resolver, h.ledger, nil, 0)
	return h
}

func (h *harness) post(t *testing.T, body string) (*httptest.ResponseRecorder, []events.Event) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/generate-lifestyle", strings.NewReader(body))
	req = req.WithContext(auth.WithUserID(req.Context(), "user-1"))
	rec := httptest.NewRecorder()
	h.handler.GenerateLifestyle(rec, req)

	var got []events.Event
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "text/event-stream") {
		err := events.ReadStream(bytes.NewReader(rec.Body.Bytes()), func(ev events.Event) error {
			got = append(got, ev)
			return nil
		})
		if err != nil {
			t.Fatalf("ReadStream: %v", err)
		}
	}
	return rec, got
}

func ofType(evs []events.Event, typ events.Type) []events.Event {
	var out []events.Event
	for _, ev := range evs {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestLifestyleStreamsFullPipeline(t *testing.T) {
	h := newHarness(t, presetResolver{}, `{"model_ids":["lm-f-01","lm-f-02","lm-f-03","lm-f-04"],"scene_ids":["ls-flower-garden","ls-cafe-terrace"]}`)

	rec, evs := h.post(t, `{"productImage":"https://cdn.test/dress.png","taskId":"task-b"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	order := []events.Type{}
	for _, ev := range evs {
		if ev.Type == events.TypeAnalysisComplete || ev.Type == events.TypeMaterialsReady || ev.Type == events.TypeComplete {
			order = append(order, ev.Type)
		}
	}
	want := []events.Type{events.TypeAnalysisComplete, events.TypeMaterialsReady, events.TypeComplete}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Fatalf("stage order = %v", order)
	}
	if last := evs[len(evs)-1]; last.Type != events.TypeComplete || *last.Succeeded != 4 || *last.Failed != 0 {
		t.Fatalf("last event = %+v", last)
	}

	var tag ProductTag
	if err := json.Unmarshal(ofType(evs, events.TypeAnalysisComplete)[0].ProductTag, &tag); err != nil || tag.OnepieceCategory != "dress" {
		t.Fatalf("productTag = %+v, %v", tag, err)
	}

	ready := ofType(evs, events.TypeMaterialsReady)[0]
	if len(ready.Models) != 4 || len(ready.Scenes) != 4 {
		t.Fatalf("materials_ready models=%v scenes=%v", ready.Models, ready.Scenes)
	}
	if ready.Scenes[0] != "ls-flower-garden" || ready.Scenes[1] != "ls-cafe-terrace" {
		t.Fatalf("AI choice not kept in order: %v", ready.Scenes)
	}

	images := ofType(evs, events.TypeImage)
	if len(images) != 4 {
		t.Fatalf("image events = %d, want 4", len(images))
	}
	seen := map[int]bool{}
	for _, ev := range images {
		if ev.Image == "" || ev.ModelType != model.ModelPro || ev.ModelID == "" || ev.SceneID == "" {
			t.Fatalf("incomplete image event %+v", ev)
		}
		seen[*ev.Index] = true
	}
	if len(seen) != 4 {
		t.Fatalf("indexes = %v", seen)
	}

	row, ok := h.records.Row("task-b", 0)
	if !ok || row.InputImageURL == "" || row.InputParams == nil {
		t.Fatalf("index 0 record missing input metadata: %+v", row)
	}
	if row, _ := h.records.Row("task-b", 2); row.InputImageURL != "" || row.InputParams != nil {
		t.Fatal("input metadata must only be written on index 0")
	}
	if h.ledger.Balance("user-1") != 6 {
		t.Fatalf("balance = %d, want 6", h.ledger.Balance("user-1"))
	}
}

func TestLifestylePartialBatch(t *testing.T) {
	h := newHarness(t, presetResolver{}, `{"model_ids":["lm-f-01","lm-f-02","lm-f-03","lm-f-04"],"scene_ids":["ls-flower-garden","ls-cafe-terrace","ls-hotel-lobby","ls-rooftop-evening"]}`)
	h.images.Fail = func(_ int, parts []*genai.Part) bool {
		return fakes.PartsContain(parts, "ls-cafe-terrace") || fakes.PartsContain(parts, "ls-rooftop-evening")
	}

	_, evs := h.post(t, `{"productImage":"https://cdn.test/dress.png","taskId":"task-p5"}`)

	last := evs[len(evs)-1]
	if last.Type != events.TypeComplete || *last.Succeeded != 2 || *last.Failed != 2 {
		t.Fatalf("last event = %+v", last)
	}
	okIdx := map[int]bool{}
	for _, ev := range ofType(evs, events.TypeImage) {
		okIdx[*ev.Index] = true
	}
	errIdx := map[int]bool{}
	for _, ev := range ofType(evs, events.TypeImageError) {
		errIdx[*ev.Index] = true
		if ev.Error != model.ErrCodeResourceBusy {
			t.Fatalf("image_error = %s", ev.Error)
		}
	}
	if !okIdx[0] || !okIdx[2] || !errIdx[1] || !errIdx[3] || len(okIdx) != 2 || len(errIdx) != 2 {
		t.Fatalf("completed=%v failed=%v", okIdx, errIdx)
	}
	if got := h.records.FailedIndexes(); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("markFailed = %v", got)
	}
	// 2 of 4 refunded
	if h.ledger.Balance("user-1") != 8 {
		t.Fatalf("balance = %d, want 8", h.ledger.Balance("user-1"))
	}
}

func TestLifestyleMissingMaterialFailsOnlyThatSlot(t *testing.T) {
	h := newHarness(t, presetResolver{missing: map[string]bool{"lm-f-02": true}},
		`{"model_ids":["lm-f-01","lm-f-02","lm-f-03","lm-f-04"],"scene_ids":["ls-flower-garden"]}`)

	_, evs := h.post(t, `{"productImage":"https://cdn.test/dress.png","taskId":"task-m"}`)

	errs := ofType(evs, events.TypeImageError)
	if len(errs) != 1 || *errs[0].Index != 1 || errs[0].Error != model.ErrCodeMissingMaterial {
		t.Fatalf("image_error events = %+v", errs)
	}
	if len(ofType(evs, events.TypeImage)) != 3 {
		t.Fatal("other slots must still complete")
	}
	if h.images.Calls != 3 {
		t.Fatalf("image calls = %d, want 3", h.images.Calls)
	}
}

func TestLifestyleUserSelectionOverridesMatch(t *testing.T) {
	h := newHarness(t, presetResolver{}, `{"model_ids":["lm-f-01"],"scene_ids":["ls-flower-garden"]}`)

	_, evs := h.post(t, `{"productImage":"https://cdn.test/dress.png","taskId":"task-u","modelId":"lm-f-05","sceneId":"ls-hotel-lobby"}`)

	if h.vision.JSONCalls != 2 {
		t.Fatalf("JSON calls = %d, matching still runs", h.vision.JSONCalls)
	}
	ready := ofType(evs, events.TypeMaterialsReady)[0]
	for i := range ready.Models {
		if ready.Models[i] != "lm-f-05" || ready.Scenes[i] != "ls-hotel-lobby" {
			t.Fatalf("selection not spliced: %v %v", ready.Models, ready.Scenes)
		}
	}
}

func TestLifestyleAnalysisFailureAborts(t *testing.T) {
	h := newHarness(t, presetResolver{}, `{}`)
	h.vision.JSON = func(int) (string, error) { return "", errors.New("unparseable") }

	_, evs := h.post(t, `{"productImage":"https://cdn.test/dress.png","taskId":"task-a"}`)

	last := evs[len(evs)-1]
	if last.Type != events.TypeError || last.Error != model.ErrCodeAnalysisFailed {
		t.Fatalf("last event = %+v", last)
	}
	h.assertAborted(t, evs)
}

func TestLifestyleNoSceneAborts(t *testing.T) {
	h := newHarness(t, presetResolver{}, `{}`)
	h.vision.JSON = func(call int) (string, error) {
		return `{"outfit_type":"swimwear","gender":"female"}`, nil
	}

	_, evs := h.post(t, `{"productImage":"https://cdn.test/swim.png","taskId":"task-n"}`)

	if last := evs[len(evs)-1]; last.Error != model.ErrCodeNoScenes {
		t.Fatalf("last event = %+v", last)
	}
	if h.vision.JSONCalls != 1 {
		t.Fatalf("JSON calls = %d, matching must not run", h.vision.JSONCalls)
	}
	h.assertAborted(t, evs)
}

func TestLifestyleUnparseableMatchAborts(t *testing.T) {
	h := newHarness(t, presetResolver{}, `{"model_ids": [lm-f-01`)

	_, evs := h.post(t, `{"productImage":"https://cdn.test/dress.png","taskId":"task-j"}`)

	if last := evs[len(evs)-1]; last.Error != model.ErrCodeMatchFailed {
		t.Fatalf("last event = %+v", last)
	}
	if len(ofType(evs, events.TypeAnalysisComplete)) != 1 || len(ofType(evs, events.TypeMaterialsReady)) != 0 {
		t.Fatalf("events = %+v", evs)
	}
	h.assertAborted(t, evs)
}

// assertAborted checks one terminal error event, no generation and a full refund.
func (h *harness) assertAborted(t *testing.T, evs []events.Event) {
	t.Helper()
	if errs := ofType(evs, events.TypeError); len(errs) != 1 || evs[len(evs)-1].Type != events.TypeError {
		t.Fatalf("want exactly one trailing error event, got %+v", evs)
	}
	if len(ofType(evs, events.TypeComplete)) != 0 || len(ofType(evs, events.TypeProgress)) != 0 {
		t.Fatal("aborted pipeline must not report slots")
	}
	if h.images.Calls != 0 {
		t.Fatalf("image calls = %d", h.images.Calls)
	}
	if h.ledger.Balance("user-1") != 10 {
		t.Fatalf("credits not refunded: %d", h.ledger.Balance("user-1"))
	}
}

func TestLifestyleRejectsBadInput(t *testing.T) {
	h := newHarness(t, presetResolver{}, `{}`)

	rec, _ := h.post(t, `{"taskId":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing product: status = %d", rec.Code)
	}
	rec, _ = h.post(t, `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: status = %d", rec.Code)
	}

	poor := newHarness(t, presetResolver{}, `{}`)
	poor.ledger = credit.NewMemoryLedger(1, nil)
	poor.handler.ledger = poor.ledger
	rec, _ = poor.post(t, `{"productImage":"https://cdn.test/dress.png"}`)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("no credits: status = %d", rec.Code)
	}
}
