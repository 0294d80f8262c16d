package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/smartbiopk/cliamapp/internal/analytics"
	"github.com/smartbiopk/cliamapp/internal/claim"
	"github.com/smartbiopk/cliamapp/internal/document"
	"github.com/smartbiopk/cliamapp/internal/report"
	"github.com/smartbiopk/cliamapp/internal/tariff"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handler wires the claim calculator, document renderer, reporting service
// and analytics recorder into HTTP handlers.
type Handler struct {
	calculator claim.Calculator
	renderer   *document.Renderer
	table      tariff.Table
	reports    *report.Service
	recorder   *analytics.Recorder

	clock func() time.Time

	tariffLoadedAt time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithReports enables the usage report endpoint. Without it the endpoint
// reports that the configured analytics backend cannot be read.
func WithReports(reports *report.Service) HandlerOption {
	return func(h *Handler) {
		h.reports = reports
	}
}

// WithRecorder publishes a usage event for every priced claim.
func WithRecorder(recorder *analytics.Recorder) HandlerOption {
	return func(h *Handler) {
		h.recorder = recorder
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(calc claim.Calculator, renderer *document.Renderer, table tariff.Table, opts ...HandlerOption) *Handler {
	h := &Handler{
		calculator: calc,
		renderer:   renderer,
		table:      table,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.tariffLoadedAt = h.clock()
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleTariff(w http.ResponseWriter, r *http.Request) {
	_ = r
	categories := h.table.Categories()
	entries := make([]tariffEntry, 0, len(categories))
	for _, category := range categories {
		entry, ok := h.table.Entry(category)
		if !ok {
			continue
		}
		entries = append(entries, tariffEntry{
			Key:   string(category),
			Label: entry.Label,
			Cap:   entry.Cap,
			Rate:  entry.Rate,
		})
	}

	resp := tariffResponse{
		FixedCost:  tariff.FixedCost,
		Categories: entries,
		UpdatedAt:  h.tariffLoadedAt,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}

	result := h.calculator.Calculate(normalizeCounts(req))
	h.publishUsage(result)

	writeJSON(w, http.StatusOK, h.buildCalculateResponse(result))
}

func (h *Handler) handleClaimPDF(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeClaimRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	result := h.calculator.Calculate(normalizeCounts(req.Counts))

	form := document.FormData{
		ClinicName:   req.ClinicName,
		ManagerName:  req.ManagerName,
		CNIC:         req.CNIC,
		AccountTitle: req.AccountTitle,
		IBAN:         req.IBAN,
		District:     req.District,
		PeriodStart:  req.PeriodStart,
		PeriodEnd:    req.PeriodEnd,
		ClaimDate:    req.Date,
		Signature:    req.Signature,
	}

	pdf, err := h.renderer.Render(form, result)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	h.publishUsage(result)

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", document.FileName(req.ManagerName)))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *Handler) handleUsageReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusUnprocessableEntity, "Reports unavailable",
			"the configured analytics backend does not support reads")
		return
	}

	var from, to time.Time
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request", "from must be a YYYY-MM-DD date")
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request", "to must be a YYYY-MM-DD date")
			return
		}
		// The window end is exclusive; make the requested day inclusive.
		to = parsed.AddDate(0, 0, 1)
	}

	workbook, err := h.reports.UsageXLSX(r.Context(), from, to)
	if err != nil {
		if errors.Is(err, analytics.ErrNotReadable) {
			writeError(w, http.StatusUnprocessableEntity, "Reports unavailable",
				"the configured analytics backend does not support reads")
			return
		}
		writeInternalError(w, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="MNHC_Usage_Report.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(workbook)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(workbook)
}

// decodeClaimRequest reads the claim payload. JSON is the primary contract;
// classic form posts are accepted with the legacy snake_case field names so
// plain HTML forms keep working.
func (h *Handler) decodeClaimRequest(r *http.Request) (claimRequest, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && mediaType == "application/x-www-form-urlencoded" {
		return h.claimRequestFromForm(r)
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return claimRequest{}, errors.New("unable to parse JSON payload")
	}
	return req, nil
}

func (h *Handler) claimRequestFromForm(r *http.Request) (claimRequest, error) {
	if err := r.ParseForm(); err != nil {
		return claimRequest{}, errors.New("unable to parse form payload")
	}

	req := claimRequest{
		ClinicName:   r.PostFormValue("clinic_name"),
		ManagerName:  r.PostFormValue("manager_name"),
		CNIC:         r.PostFormValue("cnic"),
		AccountTitle: r.PostFormValue("account_title"),
		IBAN:         r.PostFormValue("iban"),
		District:     r.PostFormValue("district"),
		PeriodStart:  r.PostFormValue("period_start"),
		PeriodEnd:    r.PostFormValue("period_end"),
		Date:         r.PostFormValue("date"),
		Signature:    r.PostFormValue("signature"),
		Counts:       make(map[string]any),
	}
	for _, category := range h.table.Categories() {
		if value := r.PostFormValue(string(category)); value != "" {
			req.Counts[string(category)] = value
		}
	}
	return req, nil
}

// publishUsage emits an anonymized usage event. Recording is best effort and
// never affects the response.
func (h *Handler) publishUsage(result claim.Result) {
	if h.recorder == nil {
		return
	}

	used := make(map[string]bool, len(result.Lines))
	for category, line := range result.Lines {
		if line.Entered > 0 {
			used[string(category)] = true
		}
	}
	h.recorder.Publish(analytics.NewEvent(used, result.Total, h.clock()))
}

func (h *Handler) buildCalculateResponse(result claim.Result) calculateResponse {
	items := make(map[string]lineItem, len(result.Lines))
	for category, line := range result.Lines {
		entry, _ := h.table.Entry(category)
		items[string(category)] = lineItem{
			Entered:  line.Entered,
			Billable: line.Billable,
			Amount:   line.Amount,
			Capped:   line.Capped,
			Cap:      entry.Cap,
		}
	}

	anomalies := make([]anomaly, 0, len(result.Anomalies))
	for _, a := range result.Anomalies {
		anomalies = append(anomalies, anomaly{Category: string(a.Category), Value: a.Value})
	}

	return calculateResponse{
		LineItems: items,
		Total:     result.Total,
		Anomalies: anomalies,
	}
}

// normalizeCounts flattens a decoded JSON object into the string form the
// calculator parses. Numbers are truncated toward zero the way the original
// spreadsheet-style inputs behaved; anything unparseable degrades to an
// anomaly downstream instead of failing the request.
func normalizeCounts(raw map[string]any) map[string]string {
	counts := make(map[string]string, len(raw))
	for key, value := range raw {
		counts[key] = stringifyCount(value)
	}
	return counts
}

func stringifyCount(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(math.Trunc(v), 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type claimRequest struct {
	ClinicName   string         `json:"clinicName"`
	ManagerName  string         `json:"managerName"`
	CNIC         string         `json:"cnic"`
	AccountTitle string         `json:"accountTitle"`
	IBAN         string         `json:"iban"`
	District     string         `json:"district"`
	PeriodStart  string         `json:"periodStart"`
	PeriodEnd    string         `json:"periodEnd"`
	Date         string         `json:"date"`
	Signature    string         `json:"signature"`
	Counts       map[string]any `json:"counts"`
}

type calculateResponse struct {
	LineItems map[string]lineItem `json:"lineItems"`
	Total     int                 `json:"total"`
	Anomalies []anomaly           `json:"anomalies,omitempty"`
}

type lineItem struct {
	Entered  int  `json:"entered"`
	Billable int  `json:"billable"`
	Amount   int  `json:"amount"`
	Capped   bool `json:"capped"`
	Cap      int  `json:"cap"`
}

type anomaly struct {
	Category string `json:"category"`
	Value    string `json:"value"`
}

type tariffResponse struct {
	FixedCost  int           `json:"fixedCost"`
	Categories []tariffEntry `json:"categories"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

type tariffEntry struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Cap   int    `json:"cap"`
	Rate  int    `json:"rate"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
