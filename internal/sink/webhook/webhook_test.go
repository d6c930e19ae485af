package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lsm/rolewatch/internal/correlation"
	"github.com/lsm/rolewatch/internal/failure"
)

func TestNewSink_MissingURL(t *testing.T) {
	_, err := NewSink(Config{})
	if !errors.Is(err, failure.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestDeliver_PostsPayload(t *testing.T) {
	var gotBody []byte
	var gotCT, gotRunID, gotStatic, gotMethod string
	runID := correlation.NewRunID()
	payload := []byte(`{"csv":"a","html":"<p>","graph":"AA==","time":"2024-01-01 06:00:00"}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotBody, _ = io.ReadAll(r.Body)
		gotCT = r.Header.Get("Content-Type")
		gotRunID = r.Header.Get(correlation.HeaderRunID)
		gotStatic = r.Header.Get("X-Api-Key")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s, err := NewSink(Config{URL: srv.URL, Headers: map[string]string{"X-Api-Key": "k"}})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	status, err := s.Deliver(context.Background(), payload, map[string]string{correlation.HeaderRunID: runID})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if status != http.StatusAccepted {
		t.Errorf("status = %d, want 202", status)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %s", gotMethod)
	}
	if string(gotBody) != string(payload) {
		t.Errorf("body = %s", gotBody)
	}
	if gotCT != "application/json" {
		t.Errorf("content-type = %q", gotCT)
	}
	if gotRunID != runID {
		t.Errorf("run id header = %q, want %q", gotRunID, runID)
	}
	if gotStatic != "k" {
		t.Errorf("static header = %q", gotStatic)
	}
}

func TestDeliver_NonSuccessStatusSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, _ := NewSink(Config{URL: srv.URL})
	status, err := s.Deliver(context.Background(), []byte("{}"), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", status)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Errorf("expected StatusError 503, got %v", err)
	}
	var fe *failure.Error
	if !errors.As(err, &fe) || fe.Stage != failure.StageDelivery {
		t.Errorf("expected delivery stage failure, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want exactly 1", calls.Load())
	}
}

func TestDeliver_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s, _ := NewSink(Config{URL: url, Timeout: time.Second})
	status, err := s.Deliver(context.Background(), []byte("{}"), nil)
	if !errors.Is(err, failure.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if status != 0 {
		t.Errorf("status = %d, want 0", status)
	}
}

func TestDeliver_CloudEventsBinaryMode(t *testing.T) {
	var body []byte
	var headers http.Header
	runID := correlation.NewRunID()
	payload := []byte(`{"csv":"x"}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		headers = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, _ := NewSink(Config{URL: srv.URL, CloudEvents: true})
	if _, err := s.Deliver(context.Background(), payload, map[string]string{correlation.HeaderRunID: runID}); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if string(body) != string(payload) {
		t.Errorf("body = %s, want payload unchanged", body)
	}
	if headers.Get("Ce-Id") != runID {
		t.Errorf("ce-id = %q, want %q", headers.Get("Ce-Id"), runID)
	}
	if headers.Get("Ce-Type") != EventType || headers.Get("Ce-Source") != EventSource {
		t.Errorf("ce-type = %q ce-source = %q", headers.Get("Ce-Type"), headers.Get("Ce-Source"))
	}
	if headers.Get("Ce-Specversion") != "1.0" {
		t.Errorf("ce-specversion = %q", headers.Get("Ce-Specversion"))
	}
	if headers.Get("Content-Type") != "application/json" {
		t.Errorf("content-type = %q", headers.Get("Content-Type"))
	}
}
