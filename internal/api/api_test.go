package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/opensource-health/kestrel/internal/bus"
	"github.com/opensource-health/kestrel/internal/cache"
	"github.com/opensource-health/kestrel/internal/catalog"
	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/intake"
	"github.com/opensource-health/kestrel/internal/report"
	"github.com/opensource-health/kestrel/internal/repository"
	"github.com/opensource-health/kestrel/internal/rulebase"
)

// createTestServer creates a server backed by a temp SQLite store seeded
// with the respiratory catalogue.
func createTestServer(t *testing.T, eventBus domain.EventBus) *Server {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c := cache.NewLRUCache(100)
	svc := catalog.NewService(repo, c, eventBus, time.Minute)
	if _, err := svc.Seed(context.Background(), domain.DefaultCatalogue, rulebase.RespiratoryConditions()); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	deriver, err := intake.NewDeriver(intake.ProbesFromConfig(domain.DefaultConfig().Probes))
	if err != nil {
		t.Fatalf("NewDeriver failed: %v", err)
	}

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
	return NewServer(cfg, repo, c, eventBus, catalog.NewDiagnoser(svc, deriver, report.NewProcessor()), "test-v1")
}

func do(server *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		json.NewEncoder(&buf).Encode(b)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestDiagnoseEndpoint(t *testing.T) {
	server := createTestServer(t, nil)

	t.Run("SuccessfulDiagnosis", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/catalogues/respiratory/diagnose", DiagnoseBody{
			Answers: map[string]any{"high fever": "y", "body ache": "yes", "fatigue": true, "dry cough": "y"},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var diag domain.Diagnosis
		if err := json.Unmarshal(rr.Body.Bytes(), &diag); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if diag.ID == "" {
			t.Error("expected diagnosis id")
		}
		if diag.Top.Name != "Flu" || diag.Top.Confidence != 100 {
			t.Errorf("expected Flu at 100, got %+v", diag.Top)
		}
		if diag.Classification != domain.ClassificationHigh {
			t.Errorf("expected HIGH, got %s", diag.Classification)
		}
		if diag.Ranked.Len() != 5 {
			t.Errorf("expected 5 ranked conditions, got %d", diag.Ranked.Len())
		}
		if diag.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
	})

	t.Run("Measurements", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/catalogues/respiratory/diagnose", DiagnoseBody{
			Answers:      map[string]any{"dry cough": "y", "loss of taste or smell": "y"},
			Measurements: map[string]float64{"temperature_c": 38.4},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var diag domain.Diagnosis
		json.Unmarshal(rr.Body.Bytes(), &diag)
		if diag.Top.Name != "COVID-19" {
			t.Errorf("expected COVID-19, got %s", diag.Top.Name)
		}
	})

	t.Run("UnknownSymptoms", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/catalogues/respiratory/diagnose", DiagnoseBody{
			Answers: map[string]any{"tail loss": "y", "hiccups": "y", "fever": "n"},
		})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status 422, got %d", rr.Code)
		}

		var resp struct {
			Unknown []string `json:"unknownSymptoms"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if len(resp.Unknown) != 2 || resp.Unknown[0] != "hiccups" || resp.Unknown[1] != "tail loss" {
			t.Errorf("expected sorted [hiccups tail loss], got %v", resp.Unknown)
		}
	})

	t.Run("BadAnswerType", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/catalogues/respiratory/diagnose", `{"answers":{"fever":[1]}}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/catalogues/respiratory/diagnose", "not-json")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownCatalogue", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/catalogues/cardiology/diagnose", DiagnoseBody{})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("InvalidCatalogueID", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/catalogues/bad.id/diagnose", DiagnoseBody{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("AsyncWithoutBus", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/catalogues/respiratory/diagnose?async=true", DiagnoseBody{})
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/catalogues/respiratory/diagnose", DiagnoseBody{})
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected X-Request-ID header")
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected X-Trace-ID header")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Errorf("expected application/json, got %s", rr.Header().Get("Content-Type"))
		}
	})
}

func TestAsyncDiagnose(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	server := createTestServer(t, eventBus)

	received := make(chan *domain.Message, 1)
	sub, err := eventBus.Subscribe(context.Background(), domain.ScopeGlobal, domain.TopicDiagnosisRequest, func(ctx context.Context, msg *domain.Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	rr := do(server, http.MethodPost, "/catalogues/respiratory/diagnose?async=true", DiagnoseBody{
		Answers: map[string]any{"sneezing": "y"},
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}

	var accepted AcceptedResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("failed to parse accepted response: %v", err)
	}
	if accepted.RequestID == "" {
		t.Fatal("expected request ID")
	}

	select {
	case msg := <-received:
		var req domain.DiagnoseRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			t.Fatalf("failed to parse request: %v", err)
		}
		if req.CatalogueID != domain.DefaultCatalogue {
			t.Errorf("expected catalogue %s, got %s", domain.DefaultCatalogue, req.CatalogueID)
		}
		if req.RequestID != accepted.RequestID {
			t.Errorf("expected published request ID %s, got %q", accepted.RequestID, req.RequestID)
		}
		if req.TraceID != accepted.TraceID {
			t.Errorf("expected published trace ID %s, got %q", accepted.TraceID, req.TraceID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected diagnose request on the bus")
	}
}

func TestExplainEndpoint(t *testing.T) {
	server := createTestServer(t, nil)

	t.Run("Explanation", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/catalogues/respiratory/explain", ExplainBody{
			DiagnoseBody: DiagnoseBody{Answers: map[string]any{"Sneezing": "y", "runny nose": "y"}},
			Condition:    "Common Cold",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var expl domain.Explanation
		json.Unmarshal(rr.Body.Bytes(), &expl)
		if len(expl.Matched) != 2 || len(expl.Unmatched) != 2 {
			t.Errorf("expected 2 matched and 2 unmatched, got %+v", expl)
		}
	})

	t.Run("UnknownCondition", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/catalogues/respiratory/explain", ExplainBody{Condition: "Measles"})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("MissingCondition", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/catalogues/respiratory/explain", ExplainBody{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestCatalogueEndpoints(t *testing.T) {
	server := createTestServer(t, nil)

	t.Run("List", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/catalogues", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 catalogue, got %d", resp.Count)
		}
	})

	t.Run("Get", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/catalogues/respiratory", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var cat domain.Catalogue
		json.Unmarshal(rr.Body.Bytes(), &cat)
		if len(cat.Conditions) != 5 || cat.Conditions[0].Name != "Common Cold" {
			t.Errorf("expected authored conditions, got %+v", cat.Conditions)
		}
	})

	t.Run("Symptoms", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/catalogues/respiratory/symptoms", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Symptoms []string `json:"symptoms"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if len(resp.Symptoms) != 15 || resp.Symptoms[0] != "body ache" {
			t.Errorf("expected 15 sorted symptoms, got %v", resp.Symptoms)
		}
	})

	t.Run("PutInvalid", func(t *testing.T) {
		rr := do(server, http.MethodPut, "/catalogues/neuro", CatalogueBody{
			Conditions: []domain.Condition{
				{Name: "Migraine", Symptoms: []domain.SymptomWeight{{Symptom: "headache", Weight: -1}}},
			},
		})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}

		var resp struct {
			Details domain.InvalidRuleError `json:"details"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Details.Condition != "Migraine" || resp.Details.Symptom != "headache" {
			t.Errorf("expected details for Migraine/headache, got %+v", resp.Details)
		}

		if rr := do(server, http.MethodGet, "/catalogues/neuro", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected rejected catalogue to be absent, got %d", rr.Code)
		}
	})

	t.Run("PutAndDiagnose", func(t *testing.T) {
		rr := do(server, http.MethodPut, "/catalogues/neuro", CatalogueBody{
			Conditions: []domain.Condition{
				{Name: "Migraine", Symptoms: []domain.SymptomWeight{
					{Symptom: "headache", Weight: 3},
					{Symptom: "nausea", Weight: 1},
				}},
			},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = do(server, http.MethodPost, "/catalogues/neuro/diagnose", DiagnoseBody{
			Answers: map[string]any{"headache": "y"},
		})
		var diag domain.Diagnosis
		json.Unmarshal(rr.Body.Bytes(), &diag)
		if diag.Top.Confidence != 75 || diag.Classification != domain.ClassificationHigh {
			t.Errorf("expected Migraine at 75 HIGH, got %+v %s", diag.Top, diag.Classification)
		}
	})

	t.Run("Reload", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/catalogues/neuro/reload", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if rr := do(server, http.MethodDelete, "/catalogues/neuro", nil); rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if rr := do(server, http.MethodDelete, "/catalogues/neuro", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 on second delete, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t, nil)

	rr := do(server, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected healthy, got %s", resp.Status)
	}
	if resp.Version != "test-v1" {
		t.Errorf("expected version test-v1, got %s", resp.Version)
	}
	if resp.Cache == nil || resp.Cache.Capacity != 100 {
		t.Errorf("expected LRU stats with capacity 100, got %+v", resp.Cache)
	}
}

func TestReadyEndpoint(t *testing.T) {
	server := createTestServer(t, nil)

	rr := do(server, http.MethodGet, "/ready", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"AnyOriginNoHeader", nil, "", "*"},
		{"AnyOriginEchoed", nil, "https://clinic.example", "https://clinic.example"},
		{"Allowed", []string{"https://clinic.example"}, "https://clinic.example", "https://clinic.example"},
		{"Rejected", []string{"https://clinic.example"}, "https://other.example", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			CORS(tt.allowed)(ok).ServeHTTP(rr, req)

			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("expected allow-origin %q, got %q", tt.want, got)
			}
		})
	}

	t.Run("Preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		rr := httptest.NewRecorder()
		CORS(nil)(ok).ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rr.Code)
		}
	})
}

func TestRecoverMiddleware(t *testing.T) {
	boom := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rr := httptest.NewRecorder()
	RecoverMiddleware(boom).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON body, got %q", ct)
	}
}
