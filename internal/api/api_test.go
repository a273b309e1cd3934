package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/calm-otter-ops/siren/internal/api/auth"
	"github.com/calm-otter-ops/siren/internal/ingest"
	"github.com/calm-otter-ops/siren/internal/lifecycle"
	"github.com/calm-otter-ops/siren/internal/models"
	"github.com/calm-otter-ops/siren/internal/sla"
	"github.com/calm-otter-ops/siren/internal/storage"
)

const (
	testJWTSecret     = "test-jwt-secret-32-bytes-long!!"
	testProducerToken = "test-producer-token"
)

// testServer creates a server over a temp-dir SQLite store with the
// default escalation policy provisioned.
func testServer(t *testing.T) (*Server, storage.Storage, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "siren-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	store := storage.NewSQLiteStorage(filepath.Join(tmpDir, "test.db"))
	if err := store.Open(); err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("open storage: %v", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("migrate storage: %v", err)
	}

	now := time.Now().UTC()
	policy := &models.EscalationPolicy{
		ID:   uuid.New().String(),
		Name: "default",
		Steps: []models.PolicyStep{{
			Wait:      5 * time.Minute,
			Responder: models.ResponderRef{Kind: models.ResponderIndividual, ID: "alice"},
			Channel:   models.ChannelPager,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.Policies().Create(context.Background(), policy); err != nil {
		store.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("create default policy: %v", err)
	}

	tracker := sla.NewTracker(store, nil)
	machine := lifecycle.NewMachine(store, tracker)
	ingestor := ingest.NewIngestor(store, tracker, "default")

	cfg := &Config{
		Address:       ":0",
		JWTSecret:     []byte(testJWTSecret),
		ProducerToken: testProducerToken,
		TokenTTL:      15 * time.Minute,
		Verbose:       false,
	}

	srv, err := New(cfg, store, machine, tracker, ingestor)
	if err != nil {
		store.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("create server: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return srv, store, cleanup
}

// handler returns the HTTP handler for the server
func handler(srv *Server) http.Handler {
	return srv.server.Handler
}

func operatorToken(t *testing.T, actor string) string {
	t.Helper()
	token, err := auth.NewJWTService([]byte(testJWTSecret), 15*time.Minute).GenerateToken(actor)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, srv *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body == "" {
		reader = bytes.NewBufferString("{}")
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler(srv).ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v; body: %s", err, rec.Body.String())
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v; body: %s", err, rec.Body.String())
	}
	return envelope.Error.Code
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	handler(srv).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestIngest_NoToken(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()

	rec := doJSON(t, srv, "POST", "/api/v1/detections", "",
		`{"source":"prometheus","signature":"disk-full"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestIngest_ProducerToken(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()

	body := `{"source":"prometheus","signature":"disk-full","severity":"high"}`
	rec := doJSON(t, srv, "POST", "/api/v1/detections", testProducerToken, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var created struct {
		AlertID         string `json:"alert_id"`
		Outcome         string `json:"outcome"`
		OccurrenceCount int64  `json:"occurrence_count"`
	}
	decodeData(t, rec, &created)
	if created.Outcome != "created" || created.AlertID == "" {
		t.Errorf("first ingest = %+v", created)
	}

	// Same fingerprint again: dedup, not a new alert.
	rec = doJSON(t, srv, "POST", "/api/v1/detections", testProducerToken, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var bumped struct {
		AlertID         string `json:"alert_id"`
		Outcome         string `json:"outcome"`
		OccurrenceCount int64  `json:"occurrence_count"`
	}
	decodeData(t, rec, &bumped)
	if bumped.Outcome != "bumped" || bumped.AlertID != created.AlertID || bumped.OccurrenceCount != 2 {
		t.Errorf("repeat ingest = %+v", bumped)
	}
}

func TestIngest_JWTAccepted(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()

	rec := doJSON(t, srv, "POST", "/api/v1/detections", operatorToken(t, "alice"),
		`{"source":"manual","signature":"smoke-test"}`)
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d; body: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
}

func TestIngest_Validation(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()

	tests := []struct {
		name string
		body string
	}{
		{"missing source", `{"signature":"x"}`},
		{"missing signature", `{"source":"x"}`},
		{"bad severity", `{"source":"x","signature":"y","severity":"apocalyptic"}`},
		{"bad observed_at", `{"source":"x","signature":"y","observed_at":"yesterday"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, "POST", "/api/v1/detections", testProducerToken, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if code := errorCode(t, rec); code != "VALIDATION_FAILED" {
				t.Errorf("error code = %q", code)
			}
		})
	}
}

func TestOperatorEndpoint_NoToken(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/api/v1/alerts", nil)
	rec := httptest.NewRecorder()
	handler(srv).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestOperatorEndpoint_ProducerTokenRejected(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()

	// The static producer token only opens the ingest endpoint.
	req := httptest.NewRequest("GET", "/api/v1/alerts", nil)
	req.Header.Set("Authorization", "Bearer "+testProducerToken)
	rec := httptest.NewRecorder()
	handler(srv).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAlertLifecycle(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()
	token := operatorToken(t, "alice")

	rec := doJSON(t, srv, "POST", "/api/v1/detections", testProducerToken,
		`{"source":"prometheus","signature":"api-latency","severity":"critical"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d; body: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		AlertID string `json:"alert_id"`
	}
	decodeData(t, rec, &created)

	// The alert shows up in the list.
	rec = doJSON(t, srv, "GET", "/api/v1/alerts?state=new", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d; body: %s", rec.Code, rec.Body.String())
	}
	var list struct {
		Items []struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"items"`
		Total int64 `json:"total"`
	}
	decodeData(t, rec, &list)
	if list.Total != 1 || len(list.Items) != 1 || list.Items[0].ID != created.AlertID {
		t.Fatalf("list = %+v", list)
	}

	// Acknowledge, then resolve.
	rec = doJSON(t, srv, "POST", "/api/v1/alerts/"+created.AlertID+"/acknowledge", token,
		`{"note":"looking into it"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("acknowledge status = %d; body: %s", rec.Code, rec.Body.String())
	}
	var acked struct {
		State string `json:"state"`
	}
	decodeData(t, rec, &acked)
	if acked.State != "acknowledged" {
		t.Errorf("state after acknowledge = %q", acked.State)
	}

	rec = doJSON(t, srv, "POST", "/api/v1/alerts/"+created.AlertID+"/resolve", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d; body: %s", rec.Code, rec.Body.String())
	}

	// Terminal alerts reject further transitions.
	rec = doJSON(t, srv, "POST", "/api/v1/alerts/"+created.AlertID+"/acknowledge", token, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("acknowledge after resolve: status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if code := errorCode(t, rec); code != "CONFLICT" {
		t.Errorf("error code = %q", code)
	}

	// History carries the acting operator from the token subject.
	rec = doJSON(t, srv, "GET", "/api/v1/alerts/"+created.AlertID+"/history", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d; body: %s", rec.Code, rec.Body.String())
	}
	var history struct {
		Items []struct {
			ToState string `json:"to_state"`
			Actor   string `json:"actor"`
			Note    string `json:"note"`
		} `json:"items"`
	}
	decodeData(t, rec, &history)
	if len(history.Items) != 3 {
		t.Fatalf("history entries = %d, want 3", len(history.Items))
	}
	found := false
	for _, item := range history.Items {
		if item.ToState == "acknowledged" {
			found = true
			if item.Actor != "alice" || item.Note != "looking into it" {
				t.Errorf("acknowledge record = %+v", item)
			}
		}
	}
	if !found {
		t.Error("no acknowledge record in history")
	}
}

func TestAlertNotFound(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()

	rec := doJSON(t, srv, "GET", "/api/v1/alerts/"+uuid.New().String(), operatorToken(t, "alice"), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if code := errorCode(t, rec); code != "NOT_FOUND" {
		t.Errorf("error code = %q", code)
	}
}

func TestPolicyCRUD(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()
	token := operatorToken(t, "admin")

	body := `{"name":"db-oncall","steps":[{"wait":"5m","responder":{"kind":"individual","id":"dave"},"channel":"pager"}]}`
	rec := doJSON(t, srv, "POST", "/api/v1/policies", token, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d; body: %s", rec.Code, rec.Body.String())
	}
	var policy struct {
		ID    string `json:"id"`
		Steps []struct {
			Wait string `json:"wait"`
		} `json:"steps"`
	}
	decodeData(t, rec, &policy)
	if policy.ID == "" || len(policy.Steps) != 1 || policy.Steps[0].Wait != "5m0s" {
		t.Errorf("created policy = %+v", policy)
	}

	// Names are unique.
	rec = doJSON(t, srv, "POST", "/api/v1/policies", token, body)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate create: status = %d, want %d", rec.Code, http.StatusConflict)
	}

	// Update rewrites the steps in place.
	update := `{"name":"db-oncall","steps":[{"wait":"10m","responder":{"kind":"individual","id":"erin"},"channel":"sms"}]}`
	rec = doJSON(t, srv, "PUT", "/api/v1/policies/"+policy.ID, token, update)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d; body: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, "GET", "/api/v1/policies/"+policy.ID, token, "")
	var updated struct {
		Steps []struct {
			Wait string `json:"wait"`
		} `json:"steps"`
	}
	decodeData(t, rec, &updated)
	if len(updated.Steps) != 1 || updated.Steps[0].Wait != "10m0s" {
		t.Errorf("updated policy = %+v", updated)
	}

	rec = doJSON(t, srv, "DELETE", "/api/v1/policies/"+policy.ID, token, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	rec = doJSON(t, srv, "GET", "/api/v1/policies/"+policy.ID, token, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestPolicyValidation(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()
	token := operatorToken(t, "admin")

	tests := []struct {
		name string
		body string
	}{
		{"no steps", `{"name":"p","steps":[]}`},
		{"bad wait", `{"name":"p","steps":[{"wait":"soon","responder":{"kind":"individual","id":"a"},"channel":"pager"}]}`},
		{"bad channel", `{"name":"p","steps":[{"wait":"5m","responder":{"kind":"individual","id":"a"},"channel":"fax"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, "POST", "/api/v1/policies", token, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d; body: %s", rec.Code, http.StatusBadRequest, rec.Body.String())
			}
		})
	}
}

func TestScheduleOnCall(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()
	token := operatorToken(t, "admin")

	body := `{"name":"backend","members":["alice","bob"],"rotation_period":"168h","anchor":"2026-01-05T09:00:00Z"}`
	rec := doJSON(t, srv, "POST", "/api/v1/schedules", token, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d; body: %s", rec.Code, rec.Body.String())
	}
	var schedule struct {
		ID string `json:"id"`
	}
	decodeData(t, rec, &schedule)

	// Second rotation period: bob is on call.
	rec = doJSON(t, srv, "GET", "/api/v1/schedules/"+schedule.ID+"/oncall?at=2026-01-13T09:00:00Z", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("oncall status = %d; body: %s", rec.Code, rec.Body.String())
	}
	var oncallResp struct {
		Members []string `json:"members"`
	}
	decodeData(t, rec, &oncallResp)
	if len(oncallResp.Members) != 1 || oncallResp.Members[0] != "bob" {
		t.Errorf("oncall members = %v, want [bob]", oncallResp.Members)
	}
}

func TestIntentEndpoints(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()
	token := operatorToken(t, "notifier")

	rec := doJSON(t, srv, "GET", "/api/v1/intents?unconsumed=true", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d; body: %s", rec.Code, rec.Body.String())
	}
	var list struct {
		Items []json.RawMessage `json:"items"`
	}
	decodeData(t, rec, &list)
	if len(list.Items) != 0 {
		t.Errorf("intents = %d, want 0", len(list.Items))
	}

	rec = doJSON(t, srv, "POST", "/api/v1/intents/"+uuid.New().String()+"/consume", token, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("consume unknown: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
