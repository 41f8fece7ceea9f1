/*
handlers.go - HTTP API handlers for the stock ledger

PURPOSE:
  Exposes the reconciliation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to stock.Service.

ENDPOINTS:
  Reports:
    GET    /api/items/{id}/ledger?from&to          Ledger points + report
    GET    /api/items/{id}/reconciliation?from&to  Report only
    GET    /api/items/{id}/export.xlsx?from&to     Spreadsheet
    GET    /api/items/{id}/snapshots               Recorded snapshots
    GET    /api/items/{id}/runs?limit              Reconciliation history

  Ingest:
    POST   /api/transactions   Record a trade
    POST   /api/operations     Record a stock operation
    POST   /api/snapshots      Record a snapshot

  Reference:
    GET    /api/classification Active code table

  Scenarios:
    GET    /api/scenarios              List demo scenarios
    POST   /api/scenarios/load         Load a demo scenario
    POST   /api/scenarios/reset        Clear all data

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (go-playground/validator)
  3. Call domain logic (stock.Service)
  4. Serialize response
  5. Handle errors (writeServiceError)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid range, validation errors, invalid input
  - 422: Missing opening or closing snapshot
  - 500: Internal errors
  An unbalanced ledger is NOT an error: 200 with report.valid=false.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/stockledger/config"
	"github.com/warp/stockledger/export"
	"github.com/warp/stockledger/stock"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// RecordStore is the persistence the handlers need. Implemented by
// store/sqldb.Store and stock/store.Memory.
type RecordStore interface {
	stock.Source
	stock.RunLog
	SaveTransaction(ctx context.Context, tx stock.Transaction) error
	SaveOperation(ctx context.Context, op stock.Operation) error
	SaveSnapshot(ctx context.Context, s stock.Snapshot) error
	RecordItems(ctx context.Context, kind stock.EventSource, id string) ([]stock.ItemID, error)
	Snapshots(ctx context.Context, item stock.ItemID) ([]stock.Snapshot, error)
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      RecordStore
	Service    *stock.Service
	Classifier *stock.Classifier
	Logger     *logrus.Logger

	validate *validator.Validate
	newID    func() string

	// Track currently loaded scenario
	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a new handler. A nil service reconciles straight from store.
func NewHandler(store RecordStore, svc *stock.Service, classifier *stock.Classifier, logger *logrus.Logger) *Handler {
	if classifier == nil {
		classifier = stock.DefaultClassifier()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if svc == nil {
		svc = &stock.Service{
			Source:     store,
			Normalizer: stock.NewNormalizer(classifier),
			Validator:  stock.NewValidator(stock.DefaultEpsilon),
			Runs:       store,
			Logger:     logger,
		}
	}
	return &Handler{
		Store:      store,
		Service:    svc,
		Classifier: classifier,
		Logger:     logger,
		validate:   validator.New(),
		newID:      uuid.NewString,
	}
}

func (h *Handler) logger() *logrus.Logger {
	if h == nil || h.Logger == nil {
		return logrus.StandardLogger()
	}
	return h.Logger
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// GetLedger returns the ledger points and the reconciliation report.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	res, ok := h.reconcile(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toLedgerResponse(res))
}

// GetReconciliation returns the report without ledger rows.
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	res, ok := h.reconcile(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ReconciliationResponse{
		Item:   string(res.Item),
		From:   formatTime(res.Window.Start),
		To:     formatTime(res.Window.End),
		Report: toReportDTO(res.Report),
	})
}

// ExportLedger streams the ledger as an Excel workbook.
func (h *Handler) ExportLedger(w http.ResponseWriter, r *http.Request) {
	res, ok := h.reconcile(w, r)
	if !ok {
		return
	}
	f, err := export.Workbook(res)
	if err != nil {
		config.LogError(h.logger(), "api", "ExportLedger", "build workbook", res.Item, err)
		writeError(w, http.StatusInternalServerError, "Failed to build workbook", err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+export.Filename(res))
	if err := f.Write(w); err != nil {
		config.LogError(h.logger(), "api", "ExportLedger", "write workbook", res.Item, err)
	}
}

// reconcile parses {id}, from and to, and runs the service. On failure it has
// already written the error response.
func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) (*stock.Result, bool) {
	item := stock.ItemID(strings.TrimSpace(chi.URLParam(r, "id")))
	if item == "" {
		writeError(w, http.StatusBadRequest, "Item id is required", nil)
		return nil, false
	}
	q := r.URL.Query()
	window, err := stock.ParseWindow(q.Get("from"), q.Get("to"))
	if err != nil {
		h.writeServiceError(w, err)
		return nil, false
	}
	res, err := h.Service.Reconcile(r.Context(), item, window)
	if err != nil {
		h.writeServiceError(w, err)
		return nil, false
	}
	return res, true
}

// ListSnapshots returns all snapshots of an item.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	item := stock.ItemID(chi.URLParam(r, "id"))
	snaps, err := h.Store.Snapshots(r.Context(), item)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list snapshots", err)
		return
	}
	dtos := make([]SnapshotDTO, len(snaps))
	for i, s := range snaps {
		dtos[i] = toSnapshotDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListRuns returns the reconciliation history of an item, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	item := stock.ItemID(chi.URLParam(r, "id"))
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}
	runs, err := h.Store.Runs(r.Context(), item, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// INGEST HANDLERS
// =============================================================================

// CreateTransaction records a trade.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	at, err := parseInstant(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid at (use RFC3339)", err)
		return
	}

	tx := stock.Transaction{
		ID:       h.idOrNew(req.ID),
		Type:     stock.TradeType(req.Type),
		At:       at,
		Store:    stock.StoreNo(req.Store),
		Lines:    toLines(req.Lines),
		Active:   activeOrDefault(req.Active),
		BillCode: req.BillCode,
		Customer: req.Customer,
		Comments: req.Comments,
	}
	replaced := h.previousItems(r.Context(), stock.SourceTransaction, tx.ID)
	if err := h.Store.SaveTransaction(r.Context(), tx); err != nil {
		config.LogError(h.logger(), "api", "CreateTransaction", "save", tx.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to save transaction", err)
		return
	}

	items := h.invalidate(r.Context(), append(tx.Items(), replaced...))
	writeJSON(w, http.StatusCreated, IngestResponse{ID: tx.ID, Kind: string(stock.SourceTransaction), Items: items})
}

// CreateOperation records a stock operation.
func (h *Handler) CreateOperation(w http.ResponseWriter, r *http.Request) {
	var req OperationRequest
	if !h.decode(w, r, &req) {
		return
	}
	at, err := parseInstant(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid at (use RFC3339)", err)
		return
	}

	op := stock.Operation{
		ID:          h.idOrNew(req.ID),
		Code:        req.Code,
		At:          at,
		Store:       stock.StoreNo(req.Store),
		ToStore:     stock.StoreNo(req.ToStore),
		Lines:       toLines(req.Lines),
		Wastage:     req.Wastage,
		Surplus:     req.Surplus,
		Active:      activeOrDefault(req.Active),
		Lorry:       req.Lorry,
		Destination: req.Destination,
		Comments:    req.Comments,
	}
	if c := req.Conversion; c != nil {
		op.Conversion = &stock.Conversion{
			FromItem: stock.ItemID(c.FromItem),
			ToItem:   stock.ItemID(c.ToItem),
			FromQty:  c.FromQty,
			ToQty:    c.ToQty,
		}
	}
	replaced := h.previousItems(r.Context(), stock.SourceOperation, op.ID)
	if err := h.Store.SaveOperation(r.Context(), op); err != nil {
		config.LogError(h.logger(), "api", "CreateOperation", "save", op.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to save operation", err)
		return
	}

	if _, ok := h.Classifier.Classify(op.Code); !ok {
		h.logger().WithFields(logrus.Fields{"module": "api", "code": op.Code, "id": op.ID}).
			Warn("operation code not in classification table; it will reconcile as Unknown")
	}

	items := h.invalidate(r.Context(), append(op.Items(), replaced...))
	writeJSON(w, http.StatusCreated, IngestResponse{ID: op.ID, Kind: string(stock.SourceOperation), Items: items})
}

// CreateSnapshot records an independently observed stock level.
func (h *Handler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req SnapshotRequest
	if !h.decode(w, r, &req) {
		return
	}
	at, err := parseInstant(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid at (use RFC3339)", err)
		return
	}

	reason := stock.SnapshotReason(req.Reason)
	if reason == "" {
		reason = stock.SnapshotManual
	}
	snap := stock.Snapshot{
		ID:     h.idOrNew(req.ID),
		Item:   stock.ItemID(req.Item),
		At:     at,
		Levels: stock.Levels{Store1: req.Store1, Store2: req.Store2},
		Reason: reason,
	}
	replaced := h.previousItems(r.Context(), stock.SourceSnapshot, snap.ID)
	if err := h.Store.SaveSnapshot(r.Context(), snap); err != nil {
		config.LogError(h.logger(), "api", "CreateSnapshot", "save", snap.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to save snapshot", err)
		return
	}

	items := h.invalidate(r.Context(), append(snap.Items(), replaced...))
	writeJSON(w, http.StatusCreated, IngestResponse{ID: snap.ID, Kind: string(stock.SourceSnapshot), Items: items})
}

// decode reads and validates a JSON body. On failure it has written a 400.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Code:    "validation_failed",
			Details: validationDetails(err),
		})
		return false
	}
	return true
}

// invalidate drops cached results of every touched item. Failures are logged only.
func (h *Handler) invalidate(ctx context.Context, items []stock.ItemID) []string {
	seen := make(map[stock.ItemID]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, string(item))
		if err := h.Service.Invalidate(ctx, item); err != nil {
			config.LogError(h.logger(), "api", "invalidate", "result cache", item, err)
		}
	}
	return out
}

// previousItems returns the items of the record a save is about to replace.
// A failed lookup is logged; the save still goes ahead.
func (h *Handler) previousItems(ctx context.Context, kind stock.EventSource, id string) []stock.ItemID {
	items, err := h.Store.RecordItems(ctx, kind, id)
	if err != nil {
		config.LogError(h.logger(), "api", "previousItems", string(kind), id, err)
		return nil
	}
	return items
}

func (h *Handler) idOrNew(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return h.newID()
}

// =============================================================================
// REFERENCE
// =============================================================================

// ListClassification returns the active operation-code table.
func (h *Handler) ListClassification(w http.ResponseWriter, r *http.Request) {
	codes := h.Classifier.Codes()
	dtos := make([]ClassificationDTO, 0, len(codes))
	for _, code := range codes {
		cls, _ := h.Classifier.Classify(code)
		dtos = append(dtos, ClassificationDTO{
			Code:      code,
			Type:      string(cls.Type),
			Direction: cls.Direction.String(),
			Store:     int(cls.Store),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

// writeServiceError maps engine errors to HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var (
		rangeErr    *stock.InvalidRangeError
		boundaryErr *stock.MissingBoundaryError
	)
	switch {
	case errors.As(err, &rangeErr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid range",
			Code:    "invalid_range",
			Details: rangeErr.Error(),
		})
	case errors.As(err, &boundaryErr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: "Missing boundary snapshot",
			Code:  "missing_boundary",
			Details: map[string]string{
				"item": string(boundaryErr.Item),
				"side": boundaryErr.Side.String(),
				"at":   formatTime(boundaryErr.At),
			},
		})
	default:
		config.LogError(h.logger(), "api", "reconcile", "service", nil, err)
		writeError(w, http.StatusInternalServerError, "Reconciliation failed", err)
	}
}

func validationDetails(err error) map[string]string {
	details := map[string]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		details["body"] = err.Error()
		return details
	}
	for _, fe := range verrs {
		details[fe.Namespace()] = fe.Tag()
	}
	return details
}

func parseInstant(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
