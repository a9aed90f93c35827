package slot

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"

	"brand-camera-server/modules/common/fakes"
	"brand-camera-server/modules/common/model"
)

func testJob(index int) Job {
	return Job{
		TaskID:      "task-1",
		UserID:      "user-1",
		TaskType:    model.TaskProStudio,
		Index:       index,
		GenMode:     model.GenSimple,
		Prompt:      "the prompt",
		InputImage:  "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("input")),
		InputParams: map[string]interface{}{"hasBg": false},
	}
}

func TestRunCompletesAndWritesInputMetadataOnce(t *testing.T) {
	images := &fakes.Images{}
	up := &fakes.Uploader{}
	records := fakes.NewRecords()
	deps := Deps{Images: images, Uploader: up, Records: records}

	res0, err := Run(context.Background(), deps, testJob(0))
	if err != nil {
		t.Fatalf("Run(0): %v", err)
	}
	if res0.ImageURL != "https://cdn.test/task-1_0.webp" || res0.ModelType != model.ModelPro || res0.DbID == "" {
		t.Fatalf("result = %+v", res0)
	}
	if _, err := Run(context.Background(), deps, testJob(1)); err != nil {
		t.Fatalf("Run(1): %v", err)
	}

	row0, _ := records.Row("task-1", 0)
	if row0.InputImageURL != "https://cdn.test/task-1_input.webp" || row0.InputParams["hasBg"] != false {
		t.Fatalf("row 0 = %+v", row0)
	}
	if row0.Prompt != "the prompt" || row0.GenMode != model.GenSimple || row0.TaskType != model.TaskProStudio {
		t.Fatalf("row 0 metadata = %+v", row0)
	}
	row1, _ := records.Row("task-1", 1)
	if row1.InputImageURL != "" || row1.InputParams != nil {
		t.Fatalf("row 1 carries input metadata: %+v", row1)
	}
	// index 0: output + input, index 1: output only
	if len(up.Objects) != 3 {
		t.Fatalf("uploads = %d, want 3", len(up.Objects))
	}
}

func TestRunModelFailureIsResourceBusy(t *testing.T) {
	records := fakes.NewRecords()
	deps := Deps{
		Images:   &fakes.Images{Fail: fakes.AlwaysFail},
		Uploader: &fakes.Uploader{},
		Records:  records,
	}
	_, err := Run(context.Background(), deps, testJob(2))
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("err = %v, want *Failure", err)
	}
	if f.Status != http.StatusServiceUnavailable || f.Code != model.ErrCodeResourceBusy {
		t.Fatalf("failure = %+v", f)
	}
	if got := records.FailedIndexes(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("markFailed = %v", got)
	}
}

func TestRunUploadFailureFailsSlot(t *testing.T) {
	records := fakes.NewRecords()
	deps := Deps{Images: &fakes.Images{}, Uploader: &fakes.Uploader{Err: errors.New("bucket gone")}, Records: records}

	_, err := Run(context.Background(), deps, testJob(0))
	f := AsFailure(err)
	if f.Status != http.StatusInternalServerError || f.Code != model.ErrCodeUploadFailed {
		t.Fatalf("failure = %+v", f)
	}
	if len(records.FailedIndexes()) != 1 {
		t.Fatal("upload failure must mark the slot failed")
	}
}

func TestRunRecordFailureKeepsSlotCompleted(t *testing.T) {
	records := fakes.NewRecords()
	records.AppendErr = errors.New("db down")
	deps := Deps{Images: &fakes.Images{}, Uploader: &fakes.Uploader{}, Records: records}

	res, err := Run(context.Background(), deps, testJob(1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ImageURL == "" || res.DbID != "" {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunSkipsRecordsWithoutTask(t *testing.T) {
	records := fakes.NewRecords()
	deps := Deps{Images: &fakes.Images{Fail: fakes.AlwaysFail}, Uploader: &fakes.Uploader{}, Records: records}
	job := testJob(0)
	job.TaskID = ""
	if _, err := Run(context.Background(), deps, job); err == nil {
		t.Fatal("expected failure")
	}
	if len(records.FailedIndexes()) != 0 {
		t.Fatal("markFailed must not run without a task id")
	}
}

func TestRunRefusesAnotherUsersRecord(t *testing.T) {
	records := fakes.NewRecords()
	records.AppendImage(context.Background(), model.GenerationRecord{TaskID: "task-1", UserID: "owner", ImageIndex: 1, ImageURL: "https://cdn.test/mine.webp"})
	deps := Deps{Images: &fakes.Images{}, Uploader: &fakes.Uploader{}, Records: records}

	res, err := Run(context.Background(), deps, testJob(1))
	if res != nil {
		t.Fatalf("result exposed for a foreign task: %+v", res)
	}
	if f := AsFailure(err); f.Status != http.StatusConflict || f.Code != model.ErrCodeTaskConflict {
		t.Fatalf("failure = %+v", f)
	}
	row, _ := records.Row("task-1", 1)
	if row.UserID != "owner" || row.ImageURL != "https://cdn.test/mine.webp" {
		t.Fatalf("owner row overwritten: %+v", row)
	}

	Fail(context.Background(), records, testJob(1), UploadFailed(errors.New("x")))
	if row, _ := records.Row("task-1", 1); row.Status == model.StatusFailed {
		t.Fatalf("markFailed overwrote the owner row: %+v", row)
	}
}
