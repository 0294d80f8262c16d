package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/smartbiopk/cliamapp/internal/analytics"
	"github.com/smartbiopk/cliamapp/internal/api"
	"github.com/smartbiopk/cliamapp/internal/claim"
	"github.com/smartbiopk/cliamapp/internal/document"
	"github.com/smartbiopk/cliamapp/internal/report"
	"github.com/smartbiopk/cliamapp/internal/tariff"
)

func newEnv(t *testing.T) (http.Handler, *analytics.Recorder) {
	t.Helper()

	logger := zaptest.NewLogger(t)
	table := tariff.Default()
	sink := analytics.NewMemorySink()
	recorder := analytics.NewRecorder(sink, 16, logger)

	handler := api.NewHandler(
		claim.New(table),
		document.NewRenderer(table),
		table,
		api.WithRecorder(recorder),
		api.WithReports(report.NewService(sink, table, logger)),
	)
	return api.NewRouter(handler, logger), recorder
}

func performRequest(t *testing.T, handler http.Handler, method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIntegrationFlow(t *testing.T) {
	handler, recorder := newEnv(t)
	jsonHeaders := map[string]string{"Content-Type": "application/json"}

	rec := performRequest(t, handler, http.MethodGet, "/api/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from health, got %d", rec.Code)
	}

	rec = performRequest(t, handler, http.MethodGet, "/api/tariff", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from tariff, got %d", rec.Code)
	}
	var tariffResp struct {
		FixedCost  int `json:"fixedCost"`
		Categories []struct {
			Key  string `json:"key"`
			Rate int    `json:"rate"`
		} `json:"categories"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&tariffResp); err != nil {
		t.Fatalf("decode tariff response: %v", err)
	}
	if tariffResp.FixedCost != 25000 {
		t.Fatalf("unexpected fixed cost %d", tariffResp.FixedCost)
	}
	if len(tariffResp.Categories) != 10 {
		t.Fatalf("expected 10 tariff categories, got %d", len(tariffResp.Categories))
	}

	calcPayload := map[string]any{"opd": "10", "del": "2"}
	body, _ := json.Marshal(calcPayload)
	rec = performRequest(t, handler, http.MethodPost, "/api/calculate", body, jsonHeaders)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from calculate, got %d", rec.Code)
	}
	var calcResp struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&calcResp); err != nil {
		t.Fatalf("decode calculate response: %v", err)
	}
	if calcResp.Total != 42000 {
		t.Fatalf("unexpected claim total %d", calcResp.Total)
	}

	claimPayload := map[string]any{
		"clinicName":  "MNHC Kot Addu",
		"managerName": "Ayesha Khan",
		"cnic":        "35202-1234567-1",
		"district":    "Muzaffargarh",
		"periodStart": "2025-02-01",
		"periodEnd":   "2025-02-28",
		"date":        "2025-03-01",
		"counts":      map[string]any{"opd": "5"},
	}
	body, _ = json.Marshal(claimPayload)
	rec = performRequest(t, handler, http.MethodPost, "/api/claims/pdf", body, jsonHeaders)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from claim pdf, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("unexpected content type %q", got)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "MNHC_Claim_Ayesha Khan.pdf") {
		t.Fatalf("unexpected disposition %q", rec.Header().Get("Content-Disposition"))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")) {
		t.Fatalf("expected PDF payload")
	}

	// Drain pending usage events so the report sees both claims.
	if err := recorder.Close(); err != nil {
		t.Fatalf("close recorder: %v", err)
	}

	rec = performRequest(t, handler, http.MethodGet, "/api/reports/usage", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from usage report, got %d", rec.Code)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Fatalf("expected XLSX payload")
	}
}
