package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MysteriousWolf/southpool-hacs/config"
	"github.com/MysteriousWolf/southpool-hacs/logger"
	"github.com/MysteriousWolf/southpool-hacs/models"
)

type fakeProvider struct {
	region   string
	view     models.DerivedView
	ready    bool
	updateOK bool
}

func (f *fakeProvider) Region() string { return f.region }

func (f *fakeProvider) CurrentView() (models.DerivedView, bool) { return f.view, f.ready }

func (f *fakeProvider) LastUpdateSuccess() bool { return f.updateOK }

func testServer(t *testing.T, providers ...ViewProvider) *Server {
	t.Helper()
	s := NewServer(config.APIConfig{Enabled: true, Address: ":0"}, providers, logger.Logger())
	if s == nil {
		t.Fatal("expected server for enabled config")
	}
	return s
}

func healthyProvider(region string) *fakeProvider {
	return &fakeProvider{
		region:   region,
		view:     models.DerivedView{Region: region, DataCount: 120, LastUpdate: time.Now()},
		ready:    true,
		updateOK: true,
	}
}

func TestNewServerDisabled(t *testing.T) {
	s := NewServer(config.APIConfig{Enabled: false}, nil, logger.Logger())
	if s != nil {
		t.Fatal("expected nil server when API is disabled")
	}
	// nil receivers are safe to use
	s.BroadcastView(models.DerivedView{})
	if s.Address() != "" {
		t.Error("expected empty address for nil server")
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t, healthyProvider("HU"), healthyProvider("SI"))
	router, err := s.buildRouter()
	if err != nil {
		t.Fatalf("buildRouter returned error: %v", err)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid health payload: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected ok status, got %v", body["status"])
	}
}

func TestHealthEndpointDegraded(t *testing.T) {
	failing := healthyProvider("RS")
	failing.updateOK = false
	s := testServer(t, healthyProvider("HU"), failing)
	router, _ := s.buildRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "degraded") {
		t.Errorf("expected degraded status in body: %s", w.Body.String())
	}
}

func TestRegionsEndpointSorted(t *testing.T) {
	s := testServer(t, healthyProvider("SI"), healthyProvider("HU"), healthyProvider("RS"))
	router, _ := s.buildRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/regions", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Regions []string `json:"regions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid regions payload: %v", err)
	}
	want := []string{"HU", "RS", "SI"}
	if len(body.Regions) != len(want) {
		t.Fatalf("expected %d regions, got %d", len(want), len(body.Regions))
	}
	for i, region := range want {
		if body.Regions[i] != region {
			t.Errorf("expected region %s at %d, got %s", region, i, body.Regions[i])
		}
	}
}

func TestRegionViewEndpoint(t *testing.T) {
	s := testServer(t, healthyProvider("HU"))
	router, _ := s.buildRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/regions/hu/view", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for lowercase region, got %d", w.Code)
	}
	var view models.DerivedView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("invalid view payload: %v", err)
	}
	if view.Region != "HU" || view.DataCount != 120 {
		t.Errorf("unexpected view: %+v", view)
	}
}

func TestRegionViewUnknownRegion(t *testing.T) {
	s := testServer(t, healthyProvider("HU"))
	router, _ := s.buildRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/regions/DE/view", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown region, got %d", w.Code)
	}
}

func TestRegionViewNotReady(t *testing.T) {
	p := healthyProvider("HU")
	p.ready = false
	s := testServer(t, p)
	router, _ := s.buildRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/regions/HU/view", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before first recompute, got %d", w.Code)
	}
}

func TestWebsocketInitialViewAndBroadcast(t *testing.T) {
	s := testServer(t, healthyProvider("HU"))
	router, _ := s.buildRouter()
	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?region=HU"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading initial view failed: %v", err)
	}
	var view models.DerivedView
	if err := json.Unmarshal(message, &view); err != nil {
		t.Fatalf("invalid initial view: %v", err)
	}
	if view.Region != "HU" {
		t.Errorf("unexpected initial view region: %s", view.Region)
	}

	s.BroadcastView(models.DerivedView{Region: "HU", DataCount: 42, LastUpdate: time.Now()})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading broadcast failed: %v", err)
	}
	if err := json.Unmarshal(message, &view); err != nil {
		t.Fatalf("invalid broadcast view: %v", err)
	}
	if view.DataCount != 42 {
		t.Errorf("expected broadcast data count 42, got %d", view.DataCount)
	}
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":               "0.0.0.0:8080",
		":9090":          "0.0.0.0:9090",
		"127.0.0.1:8081": "127.0.0.1:8081",
		"localhost":      "localhost:8080",
		"*:8082":         "0.0.0.0:8082",
	}
	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Errorf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}
