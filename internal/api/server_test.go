package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/raaihank/mailguard/internal/cache"
	"github.com/raaihank/mailguard/internal/classify"
	"github.com/raaihank/mailguard/internal/config"
	"github.com/raaihank/mailguard/internal/logger"
	"github.com/raaihank/mailguard/internal/store"
)

const supportEmail = "Subject: Urgent issue, my name is John Doe and my email is john.doe@example.com. Please help with my account."

type fakeClassifier struct {
	mu    sync.Mutex
	label string
	calls int
}

func (f *fakeClassifier) Classify(ctx context.Context, maskedText string) (classify.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return classify.Result{Label: f.label, Confidence: 0.9}, nil
}

func (f *fakeClassifier) Labels() []string {
	return []string{f.label}
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*cache.CachedLabel
}

func (f *fakeCache) Get(ctx context.Context, maskedText string) (*cache.LookupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if label, ok := f.entries[maskedText]; ok {
		return &cache.LookupResult{Label: label, CacheHit: true}, nil
	}
	return &cache.LookupResult{CacheHit: false}, nil
}

func (f *fakeCache) Set(ctx context.Context, maskedText string, label *cache.CachedLabel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[maskedText] = label
	return nil
}

func (f *fakeCache) GetStats(ctx context.Context) (*cache.CacheStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &cache.CacheStats{TotalKeys: int64(len(f.entries))}, nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []*store.ClassificationEvent
}

func (f *fakeAudit) Insert(ctx context.Context, event *store.ClassificationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) Recent(ctx context.Context, limit int) ([]store.ClassificationEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var recent []store.ClassificationEvent
	for i := len(f.events) - 1; i >= 0 && len(recent) < limit; i-- {
		recent = append(recent, *f.events[i])
	}
	return recent, nil
}

func (f *fakeAudit) GetStats(ctx context.Context) (*store.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &store.Stats{TotalEvents: int64(len(f.events))}, nil
}

func newTestServer(t *testing.T, mutate func(*config.Config), deps Dependencies) *Server {
	t.Helper()
	cfg := config.GetDefaults()
	if mutate != nil {
		mutate(cfg)
	}
	server, err := New(cfg, logger.NewNop(), deps)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return server
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func emailBody(text string) string {
	data, _ := json.Marshal(map[string]string{"input_email_body": text})
	return string(data)
}

func TestHealthAndInfo(t *testing.T) {
	s := newTestServer(t, nil, Dependencies{})

	rec := do(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"healthy"`) {
		t.Errorf("Unexpected health response: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/info", "")
	var info map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("Invalid info JSON: %v", err)
	}
	if info["name"] != "mailguard" || info["privacy_enabled"] != true {
		t.Errorf("Unexpected info: %v", info)
	}
	if detectors, ok := info["detectors"].([]interface{}); !ok || len(detectors) != 8 {
		t.Errorf("Unexpected detectors: %v", info["detectors"])
	}
}

func TestClassify(t *testing.T) {
	classifier := &fakeClassifier{label: "Incident"}
	audit := &fakeAudit{}
	s := newTestServer(t, nil, Dependencies{Classifier: classifier, Audit: audit})

	rec := do(t, s, http.MethodPost, "/classify", emailBody(supportEmail))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("Missing X-Request-ID header")
	}

	var resp struct {
		InputEmailBody       string `json:"input_email_body"`
		ListOfMaskedEntities []struct {
			Position       []int  `json:"position"`
			Classification string `json:"classification"`
			Entity         string `json:"entity"`
		} `json:"list_of_masked_entities"`
		MaskedEmail        string `json:"masked_email"`
		CategoryOfTheEmail string `json:"category_of_the_email"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid response JSON: %v", err)
	}

	wantMasked := "Subject: Urgent issue, my name is [full_name] and my email is [email]. Please help with my account."
	if resp.MaskedEmail != wantMasked {
		t.Errorf("Unexpected masked email: %q", resp.MaskedEmail)
	}
	if resp.InputEmailBody != supportEmail {
		t.Errorf("Input not echoed: %q", resp.InputEmailBody)
	}
	if resp.CategoryOfTheEmail != "Incident" {
		t.Errorf("Unexpected category: %s", resp.CategoryOfTheEmail)
	}
	if len(resp.ListOfMaskedEntities) != 2 {
		t.Fatalf("Expected 2 entities, got %+v", resp.ListOfMaskedEntities)
	}

	name, email := resp.ListOfMaskedEntities[0], resp.ListOfMaskedEntities[1]
	if name.Classification != "full_name" || name.Entity != "John Doe" || name.Position[0] != 34 || name.Position[1] != 45 {
		t.Errorf("Unexpected name entity: %+v", name)
	}
	if email.Classification != "email" || email.Entity != "john.doe@example.com" || email.Position[0] != 62 || email.Position[1] != 69 {
		t.Errorf("Unexpected email entity: %+v", email)
	}

	if len(audit.events) != 1 {
		t.Fatalf("Expected 1 audit event, got %d", len(audit.events))
	}
	event := audit.events[0]
	if event.TextHash != hashText(wantMasked) || event.Label != "Incident" || event.CacheHit {
		t.Errorf("Unexpected audit event: %+v", event)
	}
	if event.EntityCounts["full_name"] != 1 || event.EntityCounts["email"] != 1 {
		t.Errorf("Unexpected entity counts: %v", event.EntityCounts)
	}
	if event.RequestID != rec.Header().Get("X-Request-ID") {
		t.Error("Audit event request ID does not match response header")
	}
}

func TestClassifyWithKeywordClassifier(t *testing.T) {
	s := newTestServer(t, nil, Dependencies{})

	rec := do(t, s, http.MethodPost, "/classify", emailBody("Hi, I am Jane Roe. Please upgrade my laptop and migrate my files."))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"category_of_the_email":"Change"`) {
		t.Errorf("Unexpected response: %s", rec.Body.String())
	}
}

func TestClassifyUsesCache(t *testing.T) {
	classifier := &fakeClassifier{label: "Request"}
	audit := &fakeAudit{}
	labels := &fakeCache{entries: make(map[string]*cache.CachedLabel)}
	s := newTestServer(t, nil, Dependencies{Classifier: classifier, Cache: labels, Audit: audit})

	for i := 0; i < 2; i++ {
		if rec := do(t, s, http.MethodPost, "/classify", emailBody(supportEmail)); rec.Code != http.StatusOK {
			t.Fatalf("Request %d failed: %d", i+1, rec.Code)
		}
	}

	if classifier.calls != 1 {
		t.Errorf("Expected classifier to run once, ran %d times", classifier.calls)
	}
	if len(audit.events) != 2 || audit.events[0].CacheHit || !audit.events[1].CacheHit {
		t.Errorf("Unexpected cache hit flags in audit log")
	}
	for key := range labels.entries {
		if strings.Contains(key, "John Doe") {
			t.Error("Cache keyed by unmasked text")
		}
	}
}

func TestMaskDemaskRoundTrip(t *testing.T) {
	s := newTestServer(t, nil, Dependencies{Classifier: &fakeClassifier{label: "Request"}})

	inputs := []string{
		supportEmail,
		"Call 123-456-7890 or 987-654-3210.",
		"Card 4111 1111 1111 1111 exp 09/27 cvv 123, born 01/02/1990",
		"",
		"nothing to see here",
	}

	for _, input := range inputs {
		masked := do(t, s, http.MethodPost, "/mask", emailBody(input))
		if masked.Code != http.StatusOK {
			t.Fatalf("Mask failed for %q: %d %s", input, masked.Code, masked.Body.String())
		}

		restored := do(t, s, http.MethodPost, "/demask", masked.Body.String())
		if restored.Code != http.StatusOK {
			t.Fatalf("Demask failed for %q: %d %s", input, restored.Code, restored.Body.String())
		}

		var resp demaskResponse
		if err := json.Unmarshal(restored.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Invalid demask JSON: %v", err)
		}
		if resp.Email != input {
			t.Errorf("Round trip mismatch: got %q, want %q", resp.Email, input)
		}
	}
}

func TestDemaskMismatch(t *testing.T) {
	s := newTestServer(t, nil, Dependencies{Classifier: &fakeClassifier{label: "Request"}})

	body := `{"masked_email":"Hello [email]","list_of_masked_entities":[{"position":[0,5],"classification":"email","entity":"a@b.io"}]}`
	rec := do(t, s, http.MethodPost, "/demask", body)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected status 422, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "document mismatch") {
		t.Errorf("Unexpected error body: %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "a@b.io") {
		t.Error("Error response leaks entity value")
	}

	metrics := do(t, s, http.MethodGet, "/metrics", "")
	if !strings.Contains(metrics.Body.String(), `mailguard_restore_failures_total{reason="placeholder"} 1`) {
		t.Error("Restore failure not counted")
	}
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.MaxBodyBytes = 128
	}, Dependencies{Classifier: &fakeClassifier{label: "Request"}})

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"InvalidJSON", "/classify", "{", http.StatusBadRequest},
		{"MissingField", "/classify", `{"text":"hi"}`, http.StatusUnprocessableEntity},
		{"MissingMaskedEmail", "/demask", `{}`, http.StatusUnprocessableEntity},
		{"TooLarge", "/mask", emailBody(strings.Repeat("a", 200)), http.StatusRequestEntityTooLarge},
		{"BadPosition", "/demask", `{"masked_email":"x","list_of_masked_entities":[{"position":"0"}]}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("Expected status %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerMin = 1
		cfg.RateLimit.Burst = 2
	}, Dependencies{Classifier: &fakeClassifier{label: "Request"}})

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = do(t, s, http.MethodPost, "/mask", emailBody("hello")).Code
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("Unexpected status codes: %v", codes)
	}

	if rec := do(t, s, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Error("Health endpoint should not be rate limited")
	}
}

func TestDashboardRequiresAuth(t *testing.T) {
	s := newTestServer(t, nil, Dependencies{Classifier: &fakeClassifier{label: "Request"}})

	rec := do(t, s, http.MethodGet, "/", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.SetBasicAuth("admin", "admin")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with credentials, got %d", rec.Code)
	}
}

func TestStats(t *testing.T) {
	audit := &fakeAudit{}
	labels := &fakeCache{entries: make(map[string]*cache.CachedLabel)}
	s := newTestServer(t, nil, Dependencies{
		Classifier: &fakeClassifier{label: "Request"},
		Cache:      labels,
		Audit:      audit,
	})

	do(t, s, http.MethodPost, "/classify", emailBody(supportEmail))
	do(t, s, http.MethodPost, "/classify", emailBody("Please reset my password"))

	if rec := do(t, s, http.MethodGet, "/stats", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", rec.Code)
	}

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.SetBasicAuth("admin", "admin")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := get("/stats?limit=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid stats JSON: %v", err)
	}
	if resp.Audit == nil || resp.Audit.TotalEvents != 2 {
		t.Errorf("Unexpected audit stats: %+v", resp.Audit)
	}
	if resp.Cache == nil || resp.Cache.TotalKeys != 2 {
		t.Errorf("Unexpected cache stats: %+v", resp.Cache)
	}
	if len(resp.Recent) != 1 || resp.Recent[0].MaskedLength != len("Please reset my password") {
		t.Errorf("Unexpected recent events: %+v", resp.Recent)
	}
	if strings.Contains(rec.Body.String(), "john") {
		t.Error("Stats leaked email content")
	}

	if rec := get("/stats?limit=500"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for oversized limit, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil, Dependencies{Classifier: &fakeClassifier{label: "Request"}})

	do(t, s, http.MethodPost, "/classify", emailBody(supportEmail))

	rec := do(t, s, http.MethodGet, "/metrics", "")
	body, _ := io.ReadAll(bytes.NewReader(rec.Body.Bytes()))

	for _, want := range []string{
		`mailguard_pii_findings_total{category="email"} 1`,
		`mailguard_pii_findings_total{category="full_name"} 1`,
		`mailguard_classifications_total{label="Request"} 1`,
		`mailguard_http_requests_total{code="200",route="/classify"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("Metrics output missing %q", want)
		}
	}
}
