package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"camstream/internal/config"
)

func TestBuild(t *testing.T) {
	cfg := config.Default()
	cfg.Camera.Driver = "testpattern"
	cfg.Camera.Width = 16
	cfg.Camera.Height = 16

	srv, closeReporters, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build に失敗しました: %v", err)
	}
	defer closeReporters()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"driver":"testpattern"`) {
		t.Errorf("予期しないステータス: %d %s", rec.Code, rec.Body.String())
	}
}

func TestBuild_UnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Camera.Driver = "gstreamer"

	if _, _, err := Build(context.Background(), cfg); err == nil {
		t.Error("未対応のドライバーでエラーになりませんでした")
	}
}

func TestBuildReporters(t *testing.T) {
	cfg := config.Default().Telemetry
	cfg.LogFrames = false

	reporter, closeFn := buildReporters(cfg)
	defer closeFn()
	if reporter == nil {
		t.Fatal("Reporterがnilです")
	}
}
