package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/username/fintrack/backend/src/logger"
	"github.com/username/fintrack/backend/src/models"
	"github.com/username/fintrack/backend/src/security/validation"
	"github.com/username/fintrack/backend/src/services"
	"github.com/username/fintrack/backend/src/utils"
)

type InvestmentHandler struct {
	investmentService services.InvestmentService
	quoteService      services.QuoteService
}

func NewInvestmentHandler(investmentService services.InvestmentService, quoteService services.QuoteService) *InvestmentHandler {
	return &InvestmentHandler{
		investmentService: investmentService,
		quoteService:      quoteService,
	}
}

// sendServiceError maps service errors onto status codes. Server-side failures
// are logged in full but reported to the client generically.
func sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrPositionNotFound):
		utils.SendJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrInsufficientQuantity):
		utils.SendJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, models.ErrStorageUnavailable):
		log.Error("Storage failure", "path", r.URL.Path, "error", err)
		utils.SendJSONError(w, "storage temporarily unavailable", http.StatusServiceUnavailable)
	default:
		log.Error("Unexpected service error", "path", r.URL.Path, "error", err)
		utils.SendJSONError(w, "internal server error", http.StatusInternalServerError)
	}
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := validation.ValidateJSONContentType(r.Header.Get("Content-Type")); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusUnsupportedMediaType)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, validation.MaxRequestBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		utils.SendJSONError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func userIDOrAbort(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
	}
	return userID, ok
}

func positionIDOrAbort(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		utils.SendJSONError(w, fmt.Sprintf("invalid position id '%s'", r.PathValue("id")), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *InvestmentHandler) HandleBuy(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}
	var req services.BuyRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	result, err := h.investmentService.Buy(r.Context(), userID, req)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	utils.SendJSON(w, result, http.StatusCreated)
}

func (h *InvestmentHandler) HandleSell(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}
	var req services.SellRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	result, err := h.investmentService.Sell(r.Context(), userID, req)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	utils.SendJSON(w, result, http.StatusOK)
}

func (h *InvestmentHandler) HandleRecordIncome(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}
	var req services.IncomeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	tx, err := h.investmentService.RecordIncome(r.Context(), userID, req)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	utils.SendJSON(w, tx, http.StatusCreated)
}

func (h *InvestmentHandler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}
	summary, err := h.investmentService.GetSummary(r.Context(), userID)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	utils.SendJSONWithETag(w, r, summary)
}

func (h *InvestmentHandler) HandleGetPositions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}
	positions, err := h.investmentService.GetPositions(r.Context(), userID)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	utils.SendJSONWithETag(w, r, positions)
}

func (h *InvestmentHandler) HandleGetPosition(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}
	positionID, ok := positionIDOrAbort(w, r)
	if !ok {
		return
	}
	pos, err := h.investmentService.GetPosition(r.Context(), userID, positionID)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	utils.SendJSON(w, pos, http.StatusOK)
}

func (h *InvestmentHandler) HandleGetPositionTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}
	positionID, ok := positionIDOrAbort(w, r)
	if !ok {
		return
	}
	txs, err := h.investmentService.GetPositionTransactions(r.Context(), userID, positionID)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	utils.SendJSON(w, txs, http.StatusOK)
}

func (h *InvestmentHandler) HandleGetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}
	filter := models.TransactionFilter{Type: models.TransactionType(r.URL.Query().Get("type"))}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			utils.SendJSONError(w, fmt.Sprintf("invalid limit '%s'", limitStr), http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}
	txs, err := h.investmentService.GetAllTransactions(r.Context(), userID, filter)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	utils.SendJSONWithETag(w, r, txs)
}

func (h *InvestmentHandler) HandleGetEvolution(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	series, err := h.investmentService.GetPortfolioEvolution(r.Context(), userID, services.EvolutionQuery{
		StartDate: q.Get("startDate"),
		EndDate:   q.Get("endDate"),
		Interval:  models.Interval(q.Get("interval")),
	})
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	utils.SendJSONWithETag(w, r, series)
}

// HandleGetQuote answers 404 when neither a provider nor the price cache has the symbol.
func (h *InvestmentHandler) HandleGetQuote(w http.ResponseWriter, r *http.Request) {
	if _, ok := userIDOrAbort(w, r); !ok {
		return
	}
	symbol, err := validation.NormalizeSymbol(r.URL.Query().Get("symbol"))
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	market := models.Market(r.URL.Query().Get("market"))
	if !market.Valid() {
		utils.SendJSONError(w, fmt.Sprintf("unknown market '%s'", market), http.StatusBadRequest)
		return
	}

	quote := h.quoteService.GetQuote(r.Context(), symbol, market)
	if quote == nil {
		utils.SendJSONError(w, fmt.Sprintf("no quote available for %s on %s", symbol, market), http.StatusNotFound)
		return
	}
	utils.SendJSON(w, quote, http.StatusOK)
}

func (h *InvestmentHandler) HandleUpdatePrices(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}
	result, err := h.investmentService.UpdatePrices(r.Context(), userID)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	utils.SendJSON(w, result, http.StatusOK)
}

func (h *InvestmentHandler) HandleUpdatePosition(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}
	positionID, ok := positionIDOrAbort(w, r)
	if !ok {
		return
	}
	var req services.UpdatePositionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	pos, err := h.investmentService.UpdatePosition(r.Context(), userID, positionID, req)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	utils.SendJSON(w, pos, http.StatusOK)
}

func (h *InvestmentHandler) HandleDeletePosition(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}
	positionID, ok := positionIDOrAbort(w, r)
	if !ok {
		return
	}
	if err := h.investmentService.DeletePosition(r.Context(), userID, positionID); err != nil {
		sendServiceError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("Position deleted", "positionID", positionID)
	utils.SendJSON(w, map[string]bool{"success": true}, http.StatusOK)
}

// RegisterRoutes mounts the investment API on mux behind protect.
func (h *InvestmentHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("POST /api/investments/buy", protect(h.HandleBuy))
	mux.HandleFunc("POST /api/investments/sell", protect(h.HandleSell))
	mux.HandleFunc("POST /api/investments/income", protect(h.HandleRecordIncome))
	mux.HandleFunc("POST /api/investments/prices/update", protect(h.HandleUpdatePrices))
	mux.HandleFunc("GET /api/investments/summary", protect(h.HandleGetSummary))
	mux.HandleFunc("GET /api/investments/positions", protect(h.HandleGetPositions))
	mux.HandleFunc("GET /api/investments/positions/{id}", protect(h.HandleGetPosition))
	mux.HandleFunc("PATCH /api/investments/positions/{id}", protect(h.HandleUpdatePosition))
	mux.HandleFunc("DELETE /api/investments/positions/{id}", protect(h.HandleDeletePosition))
	mux.HandleFunc("GET /api/investments/positions/{id}/transactions", protect(h.HandleGetPositionTransactions))
	mux.HandleFunc("GET /api/investments/transactions", protect(h.HandleGetTransactions))
	mux.HandleFunc("GET /api/investments/evolution", protect(h.HandleGetEvolution))
	mux.HandleFunc("GET /api/investments/quote", protect(h.HandleGetQuote))
}
