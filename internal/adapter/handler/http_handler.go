package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/logger"
	"github.com/rl1809/stock-ledger/internal/port"
)

type HTTPHandler struct {
	ledger       *service.LedgerService
	restock      *service.RestockService
	items        port.ItemRepository
	persons      port.PersonRepository
	log          *logger.Logger
	applyTimeout time.Duration
}

type CreateItemRequest struct {
	Name            string `json:"name" binding:"required"`
	Unit            string `json:"unit"`
	Quantity        int    `json:"quantity"`
	MinimumQuantity int    `json:"minimum_quantity"`
}

type ApplyHTTPRequest struct {
	Type     string `json:"type"`
	Quantity int    `json:"quantity"`
	ActorID  int64  `json:"actor_id"`
	Notes    string `json:"notes"`
}

type ReconcileHTTPRequest struct {
	Quantity *int   `json:"quantity" binding:"required"`
	ActorID  int64  `json:"actor_id"`
	Notes    string `json:"notes"`
}

type CreatePersonRequest struct {
	Name       string `json:"name" binding:"required"`
	Email      string `json:"email"`
	Department string `json:"department"`
}

func NewHTTPHandler(ledger *service.LedgerService, restock *service.RestockService, items port.ItemRepository, persons port.PersonRepository, log *logger.Logger, applyTimeout time.Duration) *HTTPHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPHandler{
		ledger:       ledger,
		restock:      restock,
		items:        items,
		persons:      persons,
		log:          log,
		applyTimeout: applyTimeout,
	}
}

func NewRouter(h *HTTPHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), AccessLog(h.log))

	router.GET("/health", h.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/items", h.CreateItem)
		api.GET("/items", h.ListItems)
		api.GET("/items/:id", h.GetItem)
		api.POST("/items/:id/transactions", h.Apply)
		api.POST("/items/:id/checkout", h.applyAs(domain.TransactionTypeCheckout))
		api.POST("/items/:id/checkin", h.applyAs(domain.TransactionTypeCheckin))
		api.POST("/items/:id/reconcile", h.Reconcile)
		api.GET("/items/:id/transactions", h.ListItemTransactions)
		api.GET("/items/:id/audit", h.Audit)

		api.GET("/transactions", h.SearchTransactions)
		api.GET("/transactions/recent", h.ListRecent)

		api.POST("/persons", h.CreatePerson)
		api.GET("/persons/:id", h.GetPerson)

		api.GET("/dashboard", h.Dashboard)
	}
	return router
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HTTPHandler) CreateItem(c *gin.Context) {
	var req CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}

	item, err := h.items.CreateItem(c.Request.Context(), domain.Item{
		Name:            req.Name,
		Unit:            req.Unit,
		Quantity:        req.Quantity,
		MinimumQuantity: req.MinimumQuantity,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toItemResponse(service.StatusOf(item)))
}

func (h *HTTPHandler) ListItems(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	if c.Query("low_stock") == "true" {
		statuses, err := h.restock.LowStock(c.Request.Context(), limit)
		if err != nil {
			h.writeError(c, err)
			return
		}
		out := make([]ItemResponse, 0, len(statuses))
		for _, s := range statuses {
			out = append(out, toItemResponse(s))
		}
		c.JSON(http.StatusOK, gin.H{"items": out})
		return
	}

	items, err := h.items.ListItems(c.Request.Context(), domain.ItemFilter{Limit: limit})
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]ItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toItemResponse(service.StatusOf(item)))
	}
	c.JSON(http.StatusOK, gin.H{"items": out})
}

func (h *HTTPHandler) GetItem(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	status, err := h.restock.Status(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toItemResponse(status))
}

func (h *HTTPHandler) Apply(c *gin.Context) {
	var req ApplyHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	typ, err := domain.ParseTransactionType(req.Type)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.apply(c, typ, req)
}

// applyAs serves the checkout and checkin shortcuts, where the route fixes the type.
func (h *HTTPHandler) applyAs(typ domain.TransactionType) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ApplyHTTPRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "bad_request", err)
			return
		}
		h.apply(c, typ, req)
	}
}

func (h *HTTPHandler) apply(c *gin.Context, typ domain.TransactionType, req ApplyHTTPRequest) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	ctx, cancel := h.applyContext(c)
	defer cancel()

	txn, err := h.ledger.Apply(ctx, service.ApplyRequest{
		ItemID:   id,
		Type:     typ,
		Quantity: req.Quantity,
		ActorID:  req.ActorID,
		Notes:    req.Notes,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toTransactionResponse(txn))
}

func (h *HTTPHandler) Reconcile(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req ReconcileHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}

	ctx, cancel := h.applyContext(c)
	defer cancel()

	txn, err := h.ledger.Reconcile(ctx, id, *req.Quantity, req.ActorID, req.Notes)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toTransactionResponse(txn))
}

func (h *HTTPHandler) ListItemTransactions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	txns, err := h.ledger.ListByItem(c.Request.Context(), id, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": toTransactionResponses(txns)})
}

func (h *HTTPHandler) Audit(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	report, err := h.ledger.Audit(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, AuditResponse(report))
}

func (h *HTTPHandler) SearchTransactions(c *gin.Context) {
	var query domain.TransactionQuery

	itemID, ok := queryInt(c, "item_id")
	if !ok {
		return
	}
	query.ItemID = int64(itemID)

	beforeID, ok := queryInt(c, "before_id")
	if !ok {
		return
	}
	query.BeforeID = int64(beforeID)

	if query.Limit, ok = queryInt(c, "limit"); !ok {
		return
	}

	if raw := c.Query("type"); raw != "" {
		typ, err := domain.ParseTransactionType(raw)
		if err != nil {
			h.writeError(c, err)
			return
		}
		query.Type = typ
	}
	if query.Since, ok = queryTime(c, "since"); !ok {
		return
	}
	if query.Until, ok = queryTime(c, "until"); !ok {
		return
	}

	txns, err := h.ledger.Search(c.Request.Context(), query)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": toTransactionResponses(txns)})
}

func (h *HTTPHandler) ListRecent(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	txns, err := h.ledger.ListRecent(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": toTransactionResponses(txns)})
}

func (h *HTTPHandler) CreatePerson(c *gin.Context) {
	var req CreatePersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	person, err := h.persons.CreatePerson(c.Request.Context(), domain.Person{
		Name:       req.Name,
		Email:      req.Email,
		Department: req.Department,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toPersonResponse(person))
}

func (h *HTTPHandler) GetPerson(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	person, err := h.persons.GetPerson(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPersonResponse(person))
}

func (h *HTTPHandler) Dashboard(c *gin.Context) {
	recent, ok := queryInt(c, "recent")
	if !ok {
		return
	}
	d, err := h.restock.Dashboard(c.Request.Context(), recent)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DashboardResponse{
		TotalItems:         d.TotalItems,
		TotalUnits:         d.TotalUnits,
		LowStockCount:      d.LowStockCount,
		OutOfStockCount:    d.OutOfStockCount,
		RecentTransactions: toTransactionResponses(d.RecentTransactions),
	})
}

func (h *HTTPHandler) applyContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.applyTimeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.applyTimeout)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "bad_request", errors.New("invalid id"))
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		respondError(c, http.StatusBadRequest, "bad_request", errors.New("invalid "+key))
		return 0, false
	}
	return v, true
}

func queryTime(c *gin.Context, key string) (time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", errors.New("invalid "+key+": expected RFC3339"))
		return time.Time{}, false
	}
	return t, true
}
