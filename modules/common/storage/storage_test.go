package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"brand-camera-server/modules/common/config"
)

type recordingUploader struct {
	objects []Object
}

func (r *recordingUploader) Upload(_ context.Context, obj Object) (string, error) {
	r.objects = append(r.objects, obj)
	return "https://cdn.example.com/" + obj.Name, nil
}

func TestUploadSourcePassesURLsThrough(t *testing.T) {
	up := &recordingUploader{}
	url, err := UploadSource(context.Background(), up, "https://example.com/a.png", "u1", "x")
	if err != nil || url != "https://example.com/a.png" {
		t.Fatalf("UploadSource = %q, %v", url, err)
	}
	if len(up.objects) != 0 {
		t.Fatal("URL input must not be re-uploaded")
	}
}

func TestUploadSourceDecodesBase64(t *testing.T) {
	up := &recordingUploader{}
	src := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg"))
	url, err := UploadSource(context.Background(), up, src, "u1", "input-0")
	if err != nil {
		t.Fatalf("UploadSource: %v", err)
	}
	if url != "https://cdn.example.com/input-0" {
		t.Fatalf("url = %s", url)
	}
	if got := up.objects[0]; string(got.Data) != "jpeg" || got.MIMEType != "image/jpeg" || got.OwnerID != "u1" {
		t.Fatalf("object = %+v", got)
	}

	if _, err := UploadSource(context.Background(), up, "  ", "u1", "x"); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("err = %v, want ErrEmptyImage", err)
	}
}

func TestSupabaseUploader(t *testing.T) {
	var gotPath, gotAuth, gotUpsert, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotUpsert = r.Header.Get("x-upsert")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u := NewSupabaseUploader(&config.Config{
		SupabaseURL:            srv.URL,
		SupabaseServiceKey:     "service-key",
		SupabaseStorageBucket:  "generations",
		SupabaseStorageBaseURL: "https://cdn.example.com/public/generations/",
	})

	url, err := u.Upload(context.Background(), Object{Data: []byte("jpeg"), MIMEType: "image/jpeg", OwnerID: "u1", Name: "task-1_0"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if url != "https://cdn.example.com/public/generations/generations/user-u1/task-1_0.jpg" {
		t.Fatalf("url = %s", url)
	}
	if gotPath != "/storage/v1/object/generations/generations/user-u1/task-1_0.jpg" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotAuth != "Bearer service-key" || gotUpsert != "true" || gotType != "image/jpeg" {
		t.Fatalf("headers: auth=%q upsert=%q type=%q", gotAuth, gotUpsert, gotType)
	}
	if string(gotBody) != "jpeg" {
		t.Fatalf("body = %q", gotBody)
	}
}

func TestSupabaseUploaderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bucket not found", http.StatusNotFound)
	}))
	defer srv.Close()

	u := NewSupabaseUploader(&config.Config{SupabaseURL: srv.URL, SupabaseStorageBucket: "b"})
	_, err := u.Upload(context.Background(), Object{Data: []byte("x"), MIMEType: "image/jpeg"})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v", err)
	}
	if _, err := u.Upload(context.Background(), Object{}); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("err = %v, want ErrEmptyImage", err)
	}
}
