package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gridline/meterfeed/internal/model"
)

func TestGetDevices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/devices" {
			t.Errorf("path = %q, want /api/v1/devices", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"devices":[
			{"id":"meter-01","name":"Main Feed","active":true},
			{"id":"meter-02","name":"HVAC","active":false}
		]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")

	devices, err := client.GetDevices(context.Background())
	if err != nil {
		t.Fatalf("GetDevices failed: %v", err)
	}

	if len(devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(devices))
	}
	if devices[0].ID != "meter-01" || devices[0].Name != "Main Feed" || !devices[0].Active {
		t.Errorf("device 0 = %+v", devices[0])
	}
	if devices[1].Active {
		t.Errorf("device 1 should be inactive: %+v", devices[1])
	}
}

func TestGetDevices_RetryOn500(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"devices":[{"id":"meter-01","name":"Main Feed","active":true}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "",
		WithRetries(3, 10*time.Millisecond),
	)

	devices, err := client.GetDevices(context.Background())
	if err != nil {
		t.Fatalf("GetDevices failed after retries: %v", err)
	}
	if len(devices) != 1 {
		t.Errorf("devices = %d, want 1", len(devices))
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("backend called %d times, want 3", got)
	}
}

func TestGetDevices_NoRetryOn404(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, "",
		WithRetries(3, 10*time.Millisecond),
	)

	_, err := client.GetDevices(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error type = %T, want *StatusError", err)
	}
	if se.Code != http.StatusNotFound {
		t.Errorf("Code = %d, want 404", se.Code)
	}
	if se.Transient() {
		t.Error("404 must not be transient")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("backend called %d times, want 1", got)
	}
}

func TestGetDevices_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, "",
		WithRetries(2, time.Millisecond),
	)

	_, err := client.GetDevices(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error chain missing *StatusError: %v", err)
	}
	if se.Code != http.StatusServiceUnavailable {
		t.Errorf("Code = %d, want 503", se.Code)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("backend called %d times, want 3 (initial + 2 retries)", got)
	}
}

func TestGetDevices_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{{{not json`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "")

	_, err := client.GetDevices(context.Background())
	if err == nil {
		t.Fatal("expected parse error, got nil")
	}
}

func TestStatusError_Transient(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusNotFound, false},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		e := &StatusError{Code: tt.code}
		if got := e.Transient(); got != tt.want {
			t.Errorf("Transient(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestActiveDevices(t *testing.T) {
	devices := []model.Device{
		{ID: "meter-01", Active: true},
		{ID: "meter-02", Active: false},
		{ID: "meter-03", Active: true},
	}

	active := ActiveDevices(devices)
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2", len(active))
	}
	if active[0].ID != "meter-01" || active[1].ID != "meter-03" {
		t.Errorf("wrong devices kept: %+v", active)
	}
}
