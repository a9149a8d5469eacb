package handler

import (
	"context"
	"errors"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/logger"
)

const LedgerServiceName = "ledger.v1.LedgerService"

// LedgerServer is the server API for ledger.v1.LedgerService. Requests and responses are
// google.protobuf.Struct messages.
type LedgerServer interface {
	Apply(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListByItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRecent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	NeedsRestock(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: LedgerServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Apply", Handler: unaryHandler("Apply", LedgerServer.Apply)},
		{MethodName: "ListByItem", Handler: unaryHandler("ListByItem", LedgerServer.ListByItem)},
		{MethodName: "ListRecent", Handler: unaryHandler("ListRecent", LedgerServer.ListRecent)},
		{MethodName: "NeedsRestock", Handler: unaryHandler("NeedsRestock", LedgerServer.NeedsRestock)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/ledger.proto",
}

func unaryHandler(method string, call func(LedgerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + LedgerServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LedgerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type GRPCHandler struct {
	ledger       *service.LedgerService
	restock      *service.RestockService
	log          *logger.Logger
	applyTimeout time.Duration
}

func NewGRPCHandler(ledger *service.LedgerService, restock *service.RestockService, log *logger.Logger, applyTimeout time.Duration) *GRPCHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GRPCHandler{ledger: ledger, restock: restock, log: log, applyTimeout: applyTimeout}
}

// Register installs the ledger service and a health service reporting it as serving.
func Register(s *grpc.Server, h *GRPCHandler) *health.Server {
	s.RegisterService(&LedgerServiceDesc, h)

	hs := health.NewServer()
	hs.SetServingStatus(LedgerServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return hs
}

func (h *GRPCHandler) Apply(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	itemID, err := intField(req, "item_id")
	if err != nil {
		return nil, err
	}
	quantity, err := intField(req, "quantity")
	if err != nil {
		return nil, err
	}
	actorID, err := intField(req, "actor_id")
	if err != nil {
		return nil, err
	}
	typ, err := domain.ParseTransactionType(req.GetFields()["type"].GetStringValue())
	if err != nil {
		return nil, h.mapError(err)
	}

	if h.applyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.applyTimeout)
		defer cancel()
	}

	txn, err := h.ledger.Apply(ctx, service.ApplyRequest{
		ItemID:   itemID,
		Type:     typ,
		Quantity: int(quantity),
		ActorID:  actorID,
		Notes:    req.GetFields()["notes"].GetStringValue(),
	})
	if err != nil {
		return nil, h.mapError(err)
	}
	return newStruct(transactionFields(txn))
}

func (h *GRPCHandler) ListByItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	itemID, err := intField(req, "item_id")
	if err != nil {
		return nil, err
	}
	limit, err := intField(req, "limit")
	if err != nil {
		return nil, err
	}
	txns, err := h.ledger.ListByItem(ctx, itemID, int(limit))
	if err != nil {
		return nil, h.mapError(err)
	}
	return newStruct(map[string]any{"transactions": transactionList(txns)})
}

func (h *GRPCHandler) ListRecent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit, err := intField(req, "limit")
	if err != nil {
		return nil, err
	}
	txns, err := h.ledger.ListRecent(ctx, int(limit))
	if err != nil {
		return nil, h.mapError(err)
	}
	return newStruct(map[string]any{"transactions": transactionList(txns)})
}

func (h *GRPCHandler) NeedsRestock(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	itemID, err := intField(req, "item_id")
	if err != nil {
		return nil, err
	}
	st, err := h.restock.Status(ctx, itemID)
	if err != nil {
		return nil, h.mapError(err)
	}
	return newStruct(map[string]any{
		"item_id":          st.Item.ID,
		"quantity":         st.Item.Quantity,
		"minimum_quantity": st.Item.MinimumQuantity,
		"needs_restock":    st.NeedsRestock,
		"shortfall":        st.Shortfall,
	})
}

func (h *GRPCHandler) mapError(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity), errors.Is(err, domain.ErrUnknownTransactionType):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrItemNotFound), errors.Is(err, domain.ErrPersonNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrNoChange):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrStorageConflict):
		code = codes.Aborted
	case errors.Is(err, domain.ErrDuplicateTransaction):
		code = codes.AlreadyExists
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	}
	if code == codes.Internal {
		h.log.Error("grpc request failed", "error", err)
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}

func intField(s *structpb.Struct, key string) (int64, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", key)
	}
	// float64 holds integers exactly up to 2^53
	if math.Abs(n.NumberValue) > 1<<53 {
		return 0, status.Errorf(codes.InvalidArgument, "%s is out of range", key)
	}
	return int64(n.NumberValue), nil
}

func transactionFields(t domain.Transaction) map[string]any {
	return map[string]any{
		"id":             t.ID,
		"ref":            t.Ref,
		"item_id":        t.ItemID,
		"type":           t.Type.String(),
		"quantity":       t.Quantity,
		"delta":          t.Delta,
		"quantity_after": t.QuantityAfter,
		"actor_id":       t.ActorID,
		"notes":          t.Notes,
		"occurred_at":    t.OccurredAt.Format(time.RFC3339Nano),
	}
}

func transactionList(txns []domain.Transaction) []any {
	out := make([]any, 0, len(txns))
	for _, t := range txns {
		out = append(out, transactionFields(t))
	}
	return out
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}
