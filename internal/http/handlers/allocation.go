package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/allocation/internal/data/repos/views"
	"github.com/yungbote/allocation/internal/data/uow"
	domain "github.com/yungbote/allocation/internal/domain/allocation"
	"github.com/yungbote/allocation/internal/http/response"
	"github.com/yungbote/allocation/internal/message"
	"github.com/yungbote/allocation/internal/pkg/logger"
	"github.com/yungbote/allocation/internal/platform/apierr"
)

// Dispatcher is the message bus as seen by the HTTP layer.
type Dispatcher interface {
	Handle(ctx context.Context, msg message.Message) (any, error)
}

type AllocationHandlerDeps struct {
	Bus   Dispatcher
	Views views.Reader
	Log   *logger.Logger
}

type AllocationHandler struct {
	bus   Dispatcher
	views views.Reader
	log   *logger.Logger
}

func NewAllocationHandler(deps AllocationHandlerDeps) *AllocationHandler {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	return &AllocationHandler{
		bus:   deps.Bus,
		views: deps.Views,
		log:   deps.Log.With("handler", "AllocationHandler"),
	}
}

type createBatchRequest struct {
	Ref string  `json:"ref"`
	SKU string  `json:"sku"`
	Qty int     `json:"qty"`
	ETA *string `json:"eta"`
}

// POST /batches
func (h *AllocationHandler) CreateBatch(c *gin.Context) {
	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apierr.BadRequest("invalid_request", err))
		return
	}
	req.Ref = strings.TrimSpace(req.Ref)
	req.SKU = strings.TrimSpace(req.SKU)
	if req.Ref == "" || req.SKU == "" || req.Qty <= 0 {
		h.fail(c, apierr.BadRequest("invalid_request", fmt.Errorf("ref, sku and a positive qty are required")))
		return
	}
	eta, err := parseETA(req.ETA)
	if err != nil {
		h.fail(c, apierr.BadRequest("invalid_eta", err))
		return
	}
	cmd := domain.CreateBatch{Ref: req.Ref, SKU: req.SKU, Qty: req.Qty, ETA: eta}
	if _, err := h.bus.Handle(c.Request.Context(), cmd); err != nil {
		h.fail(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"ref": cmd.Ref})
}

type allocateRequest struct {
	OrderID string `json:"orderid"`
	SKU     string `json:"sku"`
	Qty     int    `json:"qty"`
}

// POST /allocate
func (h *AllocationHandler) Allocate(c *gin.Context) {
	var req allocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apierr.BadRequest("invalid_request", err))
		return
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.SKU = strings.TrimSpace(req.SKU)
	if req.OrderID == "" || req.SKU == "" || req.Qty <= 0 {
		h.fail(c, apierr.BadRequest("invalid_request", fmt.Errorf("orderid, sku and a positive qty are required")))
		return
	}
	out, err := h.bus.Handle(c.Request.Context(), domain.Allocate{OrderID: req.OrderID, SKU: req.SKU, Qty: req.Qty})
	if err != nil {
		h.fail(c, err)
		return
	}
	ref, _ := out.(string)
	if ref == "" {
		h.fail(c, apierr.New(http.StatusConflict, "out_of_stock", fmt.Errorf("out of stock for %s", req.SKU)))
		return
	}
	response.RespondCreated(c, gin.H{"batchref": ref})
}

type changeQuantityRequest struct {
	Qty *int `json:"qty"`
}

// POST /batches/:ref/quantity
func (h *AllocationHandler) ChangeQuantity(c *gin.Context) {
	ref := strings.TrimSpace(c.Param("ref"))
	var req changeQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apierr.BadRequest("invalid_request", err))
		return
	}
	if req.Qty == nil || *req.Qty < 0 {
		h.fail(c, apierr.BadRequest("invalid_request", fmt.Errorf("a non-negative qty is required")))
		return
	}
	if _, err := h.bus.Handle(c.Request.Context(), domain.ChangeBatchQuantity{Ref: ref, Qty: *req.Qty}); err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, gin.H{"batchref": ref, "qty": *req.Qty})
}

// GET /allocations/:orderid
func (h *AllocationHandler) ListAllocations(c *gin.Context) {
	orderID := strings.TrimSpace(c.Param("orderid"))
	rows, err := h.views.ForOrder(c.Request.Context(), orderID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(rows) == 0 {
		h.fail(c, apierr.New(http.StatusNotFound, "not_found", fmt.Errorf("no allocations for order %s", orderID)))
		return
	}
	response.RespondOK(c, rows)
}

func (h *AllocationHandler) fail(c *gin.Context, err error) {
	ae := toAPIError(err)
	if ae.Status >= http.StatusInternalServerError {
		h.log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	response.RespondError(c, ae.Status, ae.Code, ae.Err)
}

func toAPIError(err error) *apierr.Error {
	switch code := domain.CodeOf(err); code {
	case domain.CodeInvalidSKU, domain.CodeValidation:
		return apierr.New(http.StatusBadRequest, string(code), err)
	case domain.CodeUnknownBatch:
		return apierr.New(http.StatusNotFound, string(code), err)
	case domain.CodeDuplicateBatch:
		return apierr.New(http.StatusConflict, string(code), err)
	}
	switch code := uow.CodeOf(err); code {
	case uow.CodeConflict:
		return apierr.New(http.StatusConflict, string(code), err)
	case uow.CodeRetryable:
		return apierr.New(http.StatusServiceUnavailable, string(code), err)
	case uow.CodeNotFound:
		return apierr.New(http.StatusNotFound, string(code), err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apierr.New(http.StatusServiceUnavailable, "canceled", err)
	}
	return apierr.From(err)
}

func parseETA(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	v := strings.TrimSpace(*raw)
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("eta %q is not a date (YYYY-MM-DD) or RFC3339 timestamp", v)
}
