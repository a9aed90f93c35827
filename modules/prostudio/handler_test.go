package prostudio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"brand-camera-server/modules/common/auth"
	"brand-camera-server/modules/common/credit"
	"brand-camera-server/modules/common/fakes"
	"brand-camera-server/modules/common/material"
	"brand-camera-server/modules/common/model"
	"brand-camera-server/modules/common/prompt"
	"brand-camera-server/modules/common/slot"
	"brand-camera-server/modules/quota"
)

type harness struct {
	vision   *fakes.Vision
	images   *fakes.Images
	uploader *fakes.Uploader
	records  *fakes.Records
	resolver *fakes.Resolver
	handler  *Handler
}

func newHarness() *harness {
	h := &harness{
		vision:   &fakes.Vision{Text: "Three-quarter angle, relaxed pose, large softbox key light from the left."},
		images:   &fakes.Images{},
		uploader: &fakes.Uploader{},
		records:  fakes.NewRecords(),
		resolver: &fakes.Resolver{},
	}
	svc := NewService(h.vision, h.resolver, slot.Deps{Images: h.images, Uploader: h.uploader, Records: h.records})
	h.handler = NewHandler(svc, nil, nil, 0)
	return h
}

func (h *harness) post(t *testing.T, body string) (int, slot.Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/generate-pro-studio", strings.NewReader(body))
	req = req.WithContext(auth.WithUserID(req.Context(), "user-1"))
	rec := httptest.NewRecorder()
	h.handler.GenerateProStudio(rec, req)

	var resp slot.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, resp
}

func TestProStudioSimpleWithoutBackground(t *testing.T) {
	h := newHarness()

	code, resp := h.post(t, `{
		"productImages": ["https://cdn.test/shirt.png"],
		"modelImage": "https://cdn.test/model.png",
		"mode": "simple",
		"index": 0,
		"taskId": "task-a"
	}`)

	if code != http.StatusOK || !resp.Success {
		t.Fatalf("status = %d, resp = %+v", code, resp)
	}
	if resp.GenMode != model.GenSimple || resp.Image == "" || resp.ModelType != model.ModelPro {
		t.Fatalf("resp = %+v", resp)
	}
	if h.vision.TextCalls != 0 {
		t.Fatal("simple mode must not ask for instructions")
	}
	if strings.Contains(resp.Prompt, prompt.InstructionsHeader) {
		t.Fatal("simple prompt must not carry the instruction section")
	}
	if !strings.Contains(resp.Prompt, prompt.Background(false)) {
		t.Fatal("prompt should ask for an invented studio backdrop")
	}

	row, ok := h.records.Row("task-a", 0)
	if !ok || row.Status != model.StatusCompleted {
		t.Fatalf("record = %+v", row)
	}
	if hasBg, _ := row.InputParams["hasBg"].(bool); hasBg || row.InputParams["hasBg"] == nil {
		t.Fatalf("inputParams.hasBg = %v", row.InputParams["hasBg"])
	}
	if row.InputImageURL != "https://cdn.test/shirt.png" {
		t.Fatalf("inputImageUrl = %s", row.InputImageURL)
	}
	// product, model, prompt
	if len(h.images.Parts[0]) != 3 {
		t.Fatalf("parts = %d", len(h.images.Parts[0]))
	}
}

func TestProStudioBothModelsFail(t *testing.T) {
	h := newHarness()
	h.images.Fail = fakes.AlwaysFail

	code, resp := h.post(t, `{
		"productImages": ["https://cdn.test/shirt.png"],
		"modelImage": "https://cdn.test/model.png",
		"index": 2,
		"taskId": "task-d"
	}`)

	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", code)
	}
	if resp.Success || resp.Error != model.ErrCodeResourceBusy || resp.Index != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if got := h.records.FailedIndexes(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("markFailed = %v", got)
	}
	if len(h.uploader.Objects) != 0 {
		t.Fatal("nothing should be uploaded")
	}
}

func TestProStudioExtendedWithRandomModelAndBackground(t *testing.T) {
	h := newHarness()

	code, resp := h.post(t, `{
		"outfitItems": [{"category":"Top","image":"https://cdn.test/top.png"},{"category":"pants","image":"https://cdn.test/pants.png"}],
		"modelIsRandom": true,
		"backgroundImage": "bg-07",
		"mode": "extended",
		"index": 1,
		"taskId": "task-e"
	}`)

	if code != http.StatusOK || resp.GenMode != model.GenExtended {
		t.Fatalf("status = %d, resp = %+v", code, resp)
	}
	if h.vision.TextCalls != 1 {
		t.Fatalf("instruction calls = %d", h.vision.TextCalls)
	}
	for _, want := range []string{prompt.InstructionsHeader, prompt.ImagePromptHeader, h.vision.Text, "top and pants"} {
		if !strings.Contains(resp.Prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, resp.Prompt)
		}
	}

	var sawRandom, sawPreset bool
	for _, ref := range h.resolver.Refs {
		if ref.Kind() == material.KindRandom && ref.Category() == material.CategoryStudioModels {
			sawRandom = true
		}
		if ref.Kind() == material.KindPreset && ref.Category() == material.CategoryBackgrounds && ref.Value() == "bg-07" {
			sawPreset = true
		}
	}
	if !sawRandom || !sawPreset {
		t.Fatalf("resolved refs = %v", h.resolver.Refs)
	}
	if !fakes.PartsContain(h.images.Parts[0], "random:studio-models") || !fakes.PartsContain(h.images.Parts[0], "bg-07") {
		t.Fatal("model and background must be sent to the image model")
	}
}

func TestProStudioInstructionFailureDegrades(t *testing.T) {
	h := newHarness()
	h.vision.Text = ""

	code, resp := h.post(t, `{"productImages":["https://cdn.test/a.png"],"modelImage":"https://cdn.test/m.png","mode":"extended","index":0}`)
	if code != http.StatusOK || !strings.Contains(resp.Prompt, prompt.InstructionsHeader) {
		t.Fatalf("status = %d, resp = %+v", code, resp)
	}
}

func TestProStudioValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
		err  string
	}{
		{"no items", `{"modelImage":"https://cdn.test/m.png","index":0}`, http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"no model", `{"productImages":["https://cdn.test/a.png"],"index":0}`, http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"bad mode", `{"productImages":["https://cdn.test/a.png"],"modelImage":"https://cdn.test/m.png","mode":"fancy"}`, http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"bad json", `{`, http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"missing background", `{"productImages":["https://cdn.test/a.png"],"modelImage":"https://cdn.test/m.png","backgroundImage":"gone","taskId":"t","index":3}`, http.StatusBadRequest, model.ErrCodeMissingMaterial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.resolver.Missing = map[string]bool{"gone": true}
			code, resp := h.post(t, tt.body)
			if code != tt.code || resp.Error != tt.err || resp.Success {
				t.Fatalf("status = %d, resp = %+v", code, resp)
			}
			if h.images.Calls != 0 {
				t.Fatal("invalid requests must not reach the model")
			}
		})
	}
}

func TestProStudioRejectsAnonymous(t *testing.T) {
	h := newHarness()
	rec := httptest.NewRecorder()
	h.handler.GenerateProStudio(rec, httptest.NewRequest(http.MethodPost, "/api/generate-pro-studio", strings.NewReader(`{}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestProStudioSettledTaskIsClosed(t *testing.T) {
	h := newHarness()
	store := quota.NewMemoryStore()
	store.Save(context.Background(), &credit.Reservation{UserID: "user-1", TaskID: "t1", Count: 1, PerImage: 1})
	h.handler.gate = quota.NewGate(store)

	body := `{"taskId":"t1","index":0,"productImages":["https://cdn.test/shirt.png"],"modelImage":"https://cdn.test/model.png"}`
	if code, resp := h.post(t, body); code != http.StatusOK || !resp.Success {
		t.Fatalf("reserved slot: status = %d, resp = %+v", code, resp)
	}

	// 정산으로 예약이 사라진 뒤의 재요청
	store.Take(context.Background(), "user-1", "t1")
	code, resp := h.post(t, body)
	if code != http.StatusPaymentRequired || resp.Error != model.ErrCodeReservationNotFound {
		t.Fatalf("after settle: status = %d, resp = %+v", code, resp)
	}
	if h.images.Calls != 1 {
		t.Fatalf("image calls = %d, want 1", h.images.Calls)
	}
}
