package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

type APIError struct {
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Available *int   `json:"available,omitempty"`
	Requested *int   `json:"requested,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

type ItemResponse struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Unit            string    `json:"unit,omitempty"`
	Quantity        int       `json:"quantity"`
	MinimumQuantity int       `json:"minimum_quantity"`
	InitialQuantity int       `json:"initial_quantity"`
	Version         int       `json:"version"`
	NeedsRestock    bool      `json:"needs_restock"`
	Shortfall       int       `json:"shortfall"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type TransactionResponse struct {
	ID            int64     `json:"id"`
	Ref           string    `json:"ref"`
	ItemID        int64     `json:"item_id"`
	Type          string    `json:"type"`
	Quantity      int       `json:"quantity"`
	Delta         int       `json:"delta"`
	QuantityAfter int       `json:"quantity_after"`
	ActorID       int64     `json:"actor_id,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type PersonResponse struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email,omitempty"`
	Department string    `json:"department,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type AuditResponse struct {
	ItemID           int64 `json:"item_id"`
	InitialQuantity  int   `json:"initial_quantity"`
	Quantity         int   `json:"quantity"`
	NetDelta         int   `json:"net_delta"`
	TransactionCount int   `json:"transaction_count"`
	Consistent       bool  `json:"consistent"`
}

type DashboardResponse struct {
	TotalItems         int                   `json:"total_items"`
	TotalUnits         int                   `json:"total_units"`
	LowStockCount      int                   `json:"low_stock_count"`
	OutOfStockCount    int                   `json:"out_of_stock_count"`
	RecentTransactions []TransactionResponse `json:"recent_transactions"`
}

func toItemResponse(status service.ItemStatus) ItemResponse {
	item := status.Item
	return ItemResponse{
		ID:              item.ID,
		Name:            item.Name,
		Unit:            item.Unit,
		Quantity:        item.Quantity,
		MinimumQuantity: item.MinimumQuantity,
		InitialQuantity: item.InitialQuantity,
		Version:         item.Version,
		NeedsRestock:    status.NeedsRestock,
		Shortfall:       status.Shortfall,
		CreatedAt:       item.CreatedAt,
		UpdatedAt:       item.UpdatedAt,
	}
}

func toTransactionResponse(t domain.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:            t.ID,
		Ref:           t.Ref,
		ItemID:        t.ItemID,
		Type:          t.Type.String(),
		Quantity:      t.Quantity,
		Delta:         t.Delta,
		QuantityAfter: t.QuantityAfter,
		ActorID:       t.ActorID,
		Notes:         t.Notes,
		OccurredAt:    t.OccurredAt,
	}
}

func toTransactionResponses(txns []domain.Transaction) []TransactionResponse {
	out := make([]TransactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, toTransactionResponse(t))
	}
	return out
}

func toPersonResponse(p domain.Person) PersonResponse {
	return PersonResponse{
		ID:         p.ID,
		Name:       p.Name,
		Email:      p.Email,
		Department: p.Department,
		CreatedAt:  p.CreatedAt,
	}
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

// errorStatus maps a ledger error to its HTTP status and machine-readable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, domain.ErrInvalidQuantity):
		return http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, domain.ErrUnknownTransactionType):
		return http.StatusBadRequest, "unknown_transaction_type"
	case errors.Is(err, domain.ErrItemNotFound):
		return http.StatusNotFound, "item_not_found"
	case errors.Is(err, domain.ErrPersonNotFound):
		return http.StatusNotFound, "person_not_found"
	case errors.Is(err, domain.ErrStorageConflict):
		return http.StatusConflict, "storage_conflict"
	case errors.Is(err, domain.ErrDuplicateTransaction):
		return http.StatusConflict, "duplicate_transaction"
	case errors.Is(err, domain.ErrNoChange):
		return http.StatusConflict, "no_change"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return 499, "canceled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *HTTPHandler) writeError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "path", c.FullPath(), "request_id", c.GetString(requestIDKey), "error", err)
		respondError(c, status, code, errors.New("internal error"))
		return
	}

	apiErr := APIError{Message: err.Error(), Code: code}
	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) {
		apiErr.Available = &stockErr.Available
		apiErr.Requested = &stockErr.Requested
	}
	c.JSON(status, ErrorEnvelope{Error: apiErr})
}
