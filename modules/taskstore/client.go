package taskstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"brand-camera-server/modules/common/events"
	"brand-camera-server/modules/common/model"
)

const (
	routeLifestyle = "/api/generate-lifestyle"
	routeProStudio = "/api/generate-pro-studio"
	routeSingle    = "/api/generate-single"
	routeReserve   = "/api/quota/reserve"
	routeSettle    = "/api/quota/settle"
)

// APIClient drives the generation routes and mirrors their results into a Store.
type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	store      *Store

	// NumImages is the lifestyle slot count, matching the server.
	NumImages int
}

func NewAPIClient(baseURL, token string, store *Store, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		store:      store,
		NumImages:  4,
	}
}

// LifestyleInput - 라이프스타일 요청 입력
type LifestyleInput struct {
	ProductImage string
	ModelID      string
	SceneID      string
}

// SlotInput - pro-studio / single 요청 입력. Payload 는 index/taskId 를 제외한 바디.
type SlotInput struct {
	Payload    map[string]interface{}
	Count      int
	InputImage string
}

// APIError - 서버가 돌려준 에러 코드
type APIError struct {
	Status int
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d %s", e.Status, e.Code)
}

type slotResponse struct {
	Success   bool            `json:"success"`
	Index     int             `json:"index"`
	Image     string          `json:"image"`
	ModelType model.ModelType `json:"modelType"`
	GenMode   model.GenMode   `json:"genMode"`
	DbID      string          `json:"dbId"`
	Error     string          `json:"error"`
}

// GenerateLifestyle creates the task, then consumes the SSE stream into it.
// A dropped stream is resumed from the event replay, or reconciled from the
// durable records when replay is unavailable.
func (c *APIClient) GenerateLifestyle(ctx context.Context, in LifestyleInput) (model.GenerationTask, error) {
	params := map[string]interface{}{"modelId": in.ModelID, "sceneId": in.SceneID}
	inputImage := in.ProductImage
	if strings.HasPrefix(inputImage, "data:") {
		// 인라인 이미지는 로컬 기록에 남기지 않음
		inputImage = "inline"
	}
	task, err := c.store.Create(model.TaskLifestyle, inputImage, params, c.NumImages)
	if err != nil {
		return task, err
	}
	c.store.Start(task.ID)

	resp, err := c.post(ctx, routeLifestyle, map[string]interface{}{
		"productImage": in.ProductImage,
		"modelId":      in.ModelID,
		"sceneId":      in.SceneID,
		"taskId":       task.ID,
	})
	if err != nil {
		c.store.FailTask(task.ID, model.ErrCodeInternalError)
		return c.snapshot(task.ID), err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := readAPIError(resp)
		c.store.FailTask(task.ID, apiErr.Code)
		return c.snapshot(task.ID), apiErr
	}

	terminal, err := c.consume(task.ID, resp.Body)
	if terminal {
		return c.snapshot(task.ID), nil
	}
	log.Warn().Err(err).Str("taskId", task.ID).Msg("⚠️  [TaskStore] Stream ended early, resubscribing")

	// 서버는 연결이 끊겨도 생성을 계속하므로 이벤트 재구독이 우선
	terminal, err = c.resume(ctx, task.ID)
	if terminal {
		return c.snapshot(task.ID), nil
	}
	log.Warn().Err(err).Str("taskId", task.ID).Msg("⚠️  [TaskStore] Event replay unavailable, reconciling from records")
	if rerr := c.Reconcile(ctx, task.ID); rerr != nil {
		return c.snapshot(task.ID), fmt.Errorf("stream interrupted and reconcile failed: %w", rerr)
	}
	snap := c.snapshot(task.ID)
	if !snap.Status.Terminal() {
		log.Info().Str("taskId", task.ID).Msg("⏳ [TaskStore] Task still generating, run tasks sync later")
	}
	return snap, nil
}

// consume applies stream events until a terminal one or the end of body.
func (c *APIClient) consume(taskID string, body io.Reader) (bool, error) {
	terminal := false
	err := events.ReadStream(body, func(ev events.Event) error {
		if ev.Type.Terminal() {
			terminal = true
		}
		if applyErr := c.store.Apply(taskID, ev); applyErr != nil {
			log.Warn().Err(applyErr).Str("taskId", taskID).Msgf("⚠️  [TaskStore] Could not apply %s event", ev.Type)
		}
		return nil
	})
	return terminal, err
}

// resume replays the task's events from GET /api/tasks/{taskId}/events.
func (c *APIClient) resume(ctx context.Context, taskID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tasks/"+taskID+"/events", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to resubscribe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, readAPIError(resp)
	}
	return c.consume(taskID, resp.Body)
}

// GenerateProStudio runs Count pro-studio slots in parallel.
func (c *APIClient) GenerateProStudio(ctx context.Context, in SlotInput) (model.GenerationTask, error) {
	return c.runSlots(ctx, routeProStudio, model.TaskProStudio, in)
}

// GenerateSingle runs Count single-shot slots in parallel.
func (c *APIClient) GenerateSingle(ctx context.Context, in SlotInput) (model.GenerationTask, error) {
	taskType := model.TaskModelStudio
	if t, _ := in.Payload["type"].(string); t == "product" {
		taskType = model.TaskProductStudio
	}
	return c.runSlots(ctx, routeSingle, taskType, in)
}

func (c *APIClient) runSlots(ctx context.Context, route string, taskType model.TaskType, in SlotInput) (model.GenerationTask, error) {
	if in.Count <= 0 {
		in.Count = 1
	}
	task, err := c.store.Create(taskType, in.InputImage, in.Payload, in.Count)
	if err != nil {
		return task, err
	}
	c.store.Start(task.ID)

	// 슬롯 라우트는 예약된 taskId 만 받음
	if err := c.reserve(ctx, task.ID, in.Count); err != nil {
		c.store.FailTask(task.ID, codeOf(err))
		return c.snapshot(task.ID), err
	}

	var wg sync.WaitGroup
	for i := 0; i < in.Count; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			c.runSlot(ctx, route, task.ID, index, in.Payload)
		}(i)
	}
	wg.Wait()

	// 과금은 서버가 기록된 결과로 계산
	if err := c.settle(ctx, task.ID); err != nil {
		log.Error().Err(err).Str("taskId", task.ID).Msg("❌ [TaskStore] Quota settle failed")
	}
	return c.snapshot(task.ID), nil
}

func (c *APIClient) runSlot(ctx context.Context, route, taskID string, index int, payload map[string]interface{}) {
	c.store.SetSlotGenerating(taskID, index)

	body := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	body["index"] = index
	body["taskId"] = taskID

	resp, err := c.post(ctx, route, body)
	if err != nil {
		c.store.FailSlot(taskID, index, model.ErrCodeInternalError)
		return
	}
	defer resp.Body.Close()

	var out slotResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || !out.Success {
		code := out.Error
		if code == "" {
			code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
		}
		c.store.FailSlot(taskID, index, code)
		return
	}
	c.store.CompleteSlot(taskID, index, SlotResult{ImageURL: out.Image, ModelType: out.ModelType, GenMode: out.GenMode, DbID: out.DbID})
}

// Reconcile applies the durable records of a task to the store. Slots without
// a record stay open so a later sync can still fill them.
func (c *APIClient) Reconcile(ctx context.Context, taskID string) error {
	records, err := c.Records(ctx, taskID)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.Status == model.StatusFailed {
			c.store.FailSlot(taskID, r.ImageIndex, r.Error)
			continue
		}
		c.store.CompleteSlot(taskID, r.ImageIndex, SlotResult{ImageURL: r.ImageURL, ModelType: r.ModelType, GenMode: r.GenMode, DbID: r.ID})
	}
	return nil
}

// Records fetches GET /api/tasks/{taskId}/records.
func (c *APIClient) Records(ctx context.Context, taskID string) ([]model.GenerationRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tasks/"+taskID+"/records", nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}
	var out struct {
		Records []model.GenerationRecord `json:"records"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return out.Records, nil
}

func (c *APIClient) reserve(ctx context.Context, taskID string, count int) error {
	resp, err := c.post(ctx, routeReserve, map[string]interface{}{"taskId": taskID, "count": count})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	return nil
}

func (c *APIClient) settle(ctx context.Context, taskID string) error {
	// 사용자가 떠나도 정산은 끝까지
	ctx = context.WithoutCancel(ctx)
	resp, err := c.post(ctx, routeSettle, map[string]interface{}{"taskId": taskID})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	return nil
}

func (c *APIClient) post(ctx context.Context, route string, body interface{}) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+route, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s failed: %w", route, err)
	}
	return resp, nil
}

func (c *APIClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *APIClient) snapshot(taskID string) model.GenerationTask {
	t, _ := c.store.Get(taskID)
	return t
}

func readAPIError(resp *http.Response) *APIError {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = fmt.Sprintf("HTTP_%d", resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Code: body.Error}
}

func codeOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return model.ErrCodeInternalError
}
