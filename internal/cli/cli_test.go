package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lsm/rolewatch/internal/config"
	"github.com/lsm/rolewatch/internal/failure"
	"github.com/lsm/rolewatch/internal/observability"
	"github.com/lsm/rolewatch/internal/schedule"
)

type upstream struct {
	tokenStatus int
	tokenCalls  atomic.Int32
	graphCalls  atomic.Int32
	hookCalls   atomic.Int32
}

func (u *upstream) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		u.tokenCalls.Add(1)
		if u.tokenStatus != http.StatusOK {
			w.WriteHeader(u.tokenStatus)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("GET /v1.0/directoryRoles", func(w http.ResponseWriter, r *http.Request) {
		u.graphCalls.Add(1)
		_, _ = w.Write([]byte(`{"value":[{"id":"r1","displayName":"Owner"},{"id":"r2","displayName":"Reader"}]}`))
	})
	mux.HandleFunc("GET /v1.0/directoryRoles/r1/members", func(w http.ResponseWriter, r *http.Request) {
		u.graphCalls.Add(1)
		_, _ = w.Write([]byte(`{"value":[{"userPrincipalName":"a@x.com","displayName":"A","id":"1"}]}`))
	})
	mux.HandleFunc("GET /v1.0/directoryRoles/r2/members", func(w http.ResponseWriter, r *http.Request) {
		u.graphCalls.Add(1)
		_, _ = w.Write([]byte(`{"value":[{"userPrincipalName":"a@x.com","displayName":"A","id":"1"},{"userPrincipalName":"b@x.com","displayName":"B","id":"2"}]}`))
	})
	mux.HandleFunc("POST /hook", func(w http.ResponseWriter, r *http.Request) {
		u.hookCalls.Add(1)
		w.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// setup writes a config file pointing at srv and sets the secrets it needs.
func setup(t *testing.T, srv *httptest.Server, extra string) string {
	t.Helper()
	t.Setenv("GRAPH_CLIENT_ID", "id")
	t.Setenv("GRAPH_CLIENT_SECRET", "secret")
	t.Setenv("WEBHOOK_URL", srv.URL+"/hook")
	t.Setenv("ROLEWATCH_OTEL_ENABLED", "")
	t.Setenv("ROLEWATCH_SCHEDULE", "")

	report := "report:\n  timezone: UTC\n"
	if strings.Contains(extra, "report:") {
		report = ""
	}
	content := fmt.Sprintf(`tenantID: t1
graph:
  baseURL: %[1]s/v1.0
credentials:
  - name: GRAPH
    clientIDEnv: GRAPH_CLIENT_ID
    clientSecretEnv: GRAPH_CLIENT_SECRET
    audience: https://graph.microsoft.com/.default
    tokenURL: %[1]s/token
%[2]s%[3]s`, srv.URL, report, extra)

	path := filepath.Join(t.TempDir(), "rolewatch.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunOnce_PrintsSummary(t *testing.T) {
	u := &upstream{tokenStatus: http.StatusOK}
	srv := u.server(t)
	path := setup(t, srv, "")

	var out bytes.Buffer
	if err := RunOnce([]string{"-config", path}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if u.hookCalls.Load() != 1 {
		t.Errorf("webhook calls = %d, want 1", u.hookCalls.Load())
	}
	got := out.String()
	for _, want := range []string{"3 records across 2 roles", "Owner", "Reader"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunOnce_Quiet(t *testing.T) {
	u := &upstream{tokenStatus: http.StatusOK}
	srv := u.server(t)
	path := setup(t, srv, "")

	var out bytes.Buffer
	if err := RunOnce([]string{"-config", path, "-quiet"}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no output, got %q", out.String())
	}
}

func TestRunOnce_FilterApplied(t *testing.T) {
	u := &upstream{tokenStatus: http.StatusOK}
	srv := u.server(t)
	path := setup(t, srv, `filter: 'member.roles == "Reader"'`+"\n")

	var out bytes.Buffer
	if err := RunOnce([]string{"-config", path}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "2 records across 2 roles") {
		t.Errorf("output = %s", out.String())
	}
}

func TestRunOnce_TokenRejected(t *testing.T) {
	u := &upstream{tokenStatus: http.StatusUnauthorized}
	srv := u.server(t)
	path := setup(t, srv, "")

	err := RunOnce([]string{"-config", path}, &bytes.Buffer{})
	if !errors.Is(err, failure.ErrAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if u.graphCalls.Load() != 0 || u.hookCalls.Load() != 0 {
		t.Errorf("graph calls = %d, webhook calls = %d; want 0, 0", u.graphCalls.Load(), u.hookCalls.Load())
	}
}

func TestRunOnce_MissingSecret(t *testing.T) {
	u := &upstream{tokenStatus: http.StatusOK}
	srv := u.server(t)
	path := setup(t, srv, "")
	t.Setenv("GRAPH_CLIENT_SECRET", "")

	err := RunOnce([]string{"-config", path}, &bytes.Buffer{})
	if !errors.Is(err, failure.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if u.tokenCalls.Load() != 0 {
		t.Errorf("token calls = %d, want 0", u.tokenCalls.Load())
	}
}

func TestRunOnce_Help(t *testing.T) {
	if err := RunOnce([]string{"-h"}, &bytes.Buffer{}); err != nil {
		t.Errorf("help returned %v", err)
	}
}

func TestRunOnce_UnknownFlag(t *testing.T) {
	if err := RunOnce([]string{"-bogus"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestRunValidate(t *testing.T) {
	u := &upstream{tokenStatus: http.StatusOK}
	srv := u.server(t)

	tests := []struct {
		name    string
		extra   string
		wantErr bool
	}{
		{"valid", "", false},
		{"bad filter", "filter: 'member.roles =='\n", true},
		{"non-bool filter", "filter: 'member.roles'\n", true},
		{"bad schedule", "schedule: 'every day'\n", true},
		{"bad timezone", "report:\n  timezone: Mars/Olympus\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := setup(t, srv, tt.extra)

			var out bytes.Buffer
			err := RunValidate([]string{"-config", path}, &out)
			if tt.wantErr {
				if !errors.Is(err, failure.ErrConfiguration) {
					t.Fatalf("expected configuration error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if !strings.Contains(out.String(), "Configuration valid") {
				t.Errorf("output = %q", out.String())
			}
		})
	}
	if u.tokenCalls.Load() != 0 {
		t.Errorf("validate without -resolve made %d token calls", u.tokenCalls.Load())
	}
}

func TestRunValidate_Resolve(t *testing.T) {
	u := &upstream{tokenStatus: http.StatusOK}
	srv := u.server(t)
	path := setup(t, srv, "")

	var out bytes.Buffer
	if err := RunValidate([]string{"-config", path, "-resolve"}, &out); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if u.tokenCalls.Load() != 1 {
		t.Errorf("token calls = %d, want 1", u.tokenCalls.Load())
	}
	if !strings.Contains(out.String(), "GRAPH resolved") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunValidate_ResolveRejected(t *testing.T) {
	u := &upstream{tokenStatus: http.StatusUnauthorized}
	srv := u.server(t)
	path := setup(t, srv, "")

	err := RunValidate([]string{"-config", path, "-resolve"}, &bytes.Buffer{})
	if !errors.Is(err, failure.ErrAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	var fe *failure.Error
	if !errors.As(err, &fe) || fe.Stage != failure.StageCredentials {
		t.Errorf("error = %#v, want stage %s", err, failure.StageCredentials)
	}
}

func TestTracingConfig_CarriesTenant(t *testing.T) {
	t.Setenv("ROLEWATCH_OTEL_ENABLED", "true")
	tc := tracingConfig(&config.Config{TenantID: "contoso-tenant"})
	if !tc.Enabled || tc.ServiceName != serviceName || tc.TenantID != "contoso-tenant" {
		t.Errorf("tracing config = %+v", tc)
	}
}

func TestNewMux(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = observability.NewMetrics(reg)
	health := observability.NewHealthServer()
	health.SetReady(true)

	triggered := make(chan struct{}, 1)
	srv := httptest.NewServer(newMux(reg, health, func() { triggered <- struct{}{} }))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/run", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /run: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("POST /run status = %d, want 202", resp.StatusCode)
	}
	select {
	case <-triggered:
	case <-time.After(2 * time.Second):
		t.Fatal("run was not triggered")
	}

	for _, path := range []string{"/metrics", "/healthz", "/readyz", "/status"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestService_Reload(t *testing.T) {
	u := &upstream{tokenStatus: http.StatusOK}
	srv := u.server(t)
	path := setup(t, srv, "")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	svc, err := newService(cfg, observers{})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	defer svc.close()
	first := svc.pipeline

	bad := *cfg
	bad.Filter = "member.roles =="
	svc.reload(&bad)
	if svc.pipeline != first {
		t.Fatal("pipeline replaced by a configuration that does not build")
	}

	next := *cfg
	next.Report.Title = "Directory Roles"
	svc.reload(&next)
	if svc.pipeline == first {
		t.Fatal("pipeline not replaced on reload")
	}
	if svc.cfg.Report.Title != "Directory Roles" {
		t.Errorf("config title = %q", svc.cfg.Report.Title)
	}

	if err := svc.run(context.Background()); err != nil {
		t.Fatalf("run after reload: %v", err)
	}
	if u.hookCalls.Load() != 1 {
		t.Errorf("webhook calls = %d, want 1", u.hookCalls.Load())
	}
}

func TestService_ReloadKeepsPreviousOnBadSchedule(t *testing.T) {
	u := &upstream{tokenStatus: http.StatusOK}
	srv := u.server(t)
	path := setup(t, srv, "")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	svc, err := newService(cfg, observers{})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	defer svc.close()
	sched := schedule.New(svc.run, time.UTC, nil)
	if err := sched.Start(context.Background(), config.DefaultSchedule); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { <-sched.Stop().Done() })
	svc.sched = sched
	first := svc.pipeline

	next := *cfg
	next.Schedule = "not a schedule"
	svc.reload(&next)
	if svc.pipeline != first {
		t.Fatal("pipeline replaced despite an invalid schedule")
	}
}
