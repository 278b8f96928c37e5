package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	_ "modernc.org/sqlite"

	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/config"
	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/service"
)

const routesYAML = `
enabled: true
database_url: "sqlite::memory:"
coops:
  stations:
    - id: "9414290"
      enabled: true
field_mappings:
  coops_module:
    water_level:
      table: "coops_realtime"
      column: "marine_current_water_level"
      type: "numeric"
`

func testService(t *testing.T) *service.Service {
	t.Helper()
	t.Setenv("DATABASE_URL", "")

	path := filepath.Join(t.TempDir(), "marine.yaml")
	if err := os.WriteFile(path, []byte(routesYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	svc, err := service.New(context.Background(), cfg, db, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestHealthEndpoint(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app, testService(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

// TestStatusEndpoint verifies the poller inventory is reported even before
// collection has started.
func TestStatusEndpoint(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app, testService(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var body struct {
		Pollers []service.PollerStatus `json:"pollers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Pollers) != 1 {
		t.Fatalf("pollers = %d, want 1", len(body.Pollers))
	}
	ps := body.Pollers[0]
	if ps.Source != "coops" {
		t.Errorf("source = %q, want coops", ps.Source)
	}
	if len(ps.Stations) != 1 || ps.Stations[0] != "9414290" {
		t.Errorf("stations = %v, want [9414290]", ps.Stations)
	}
}

func TestLatestEndpointEmpty(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app, testService(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/latest", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
}
