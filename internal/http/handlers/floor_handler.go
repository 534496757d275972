// README: Floor handlers for orders, payments, table overrides, snapshots and sweeps.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"floortwin/internal/modules/floor"
	"floortwin/internal/modules/order"
	"floortwin/internal/modules/table"
	"floortwin/internal/types"
)

type FloorHandler struct {
	floor *floor.Service
	// threshold is the sweep threshold used when a request names none.
	threshold time.Duration
}

func NewFloorHandler(svc *floor.Service, threshold time.Duration) *FloorHandler {
	return &FloorHandler{floor: svc, threshold: threshold}
}

type createOrderReq struct {
	Status       string `json:"status"`
	CustomerName string `json:"customer_name"`
	PartySize    int    `json:"party_size"`
	Total        int64  `json:"total"`
	Currency     string `json:"currency"`
}

func (h *FloorHandler) CreateOrder(c *gin.Context) {
	tableID := c.Param("id")
	if !isValidID(tableID) {
		writeError(c, http.StatusBadRequest, "invalid table id")
		return
	}
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cmd := floor.CreateCommand{
		TableID:      types.ID(tableID),
		CustomerName: strings.TrimSpace(req.CustomerName),
		PartySize:    req.PartySize,
		Total:        types.Money{Amount: req.Total, Currency: strings.ToUpper(req.Currency)},
	}
	if req.Status != "" {
		st, err := order.ParseStatus(req.Status)
		if err != nil {
			writeFloorError(c, err)
			return
		}
		cmd.Status = st
	}
	out, err := h.floor.CreateOrder(c.Request.Context(), cmd)
	if err != nil {
		writeFloorError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, out)
}

func (h *FloorHandler) GetOrder(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid order id")
		return
	}
	o, err := h.floor.GetOrder(c.Request.Context(), types.ID(id))
	if err != nil {
		writeFloorError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

type transitionReq struct {
	Status string `json:"status" binding:"required"`
}

func (h *FloorHandler) Transition(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid order id")
		return
	}
	var req transitionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "missing status")
		return
	}
	to, err := order.ParseStatus(req.Status)
	if err != nil {
		writeFloorError(c, err)
		return
	}
	out, err := h.floor.ApplyTransitionWithRetry(c.Request.Context(), types.ID(id), to, floor.DefaultRetryAttempts)
	if err != nil {
		writeFloorError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, out)
}

type paymentReq struct {
	Amount        int64  `json:"amount" binding:"required"`
	Tip           int64  `json:"tip"`
	Currency      string `json:"currency"`
	Method        string `json:"method"`
	TransactionID string `json:"transaction_id"`
}

func (h *FloorHandler) RecordPayment(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid order id")
		return
	}
	var req paymentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "missing amount")
		return
	}
	method, err := order.ParseMethod(req.Method)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	cur := strings.ToUpper(req.Currency)
	res, err := h.floor.RecordPayment(c.Request.Context(), floor.PaymentCommand{
		OrderID:       types.ID(id),
		Amount:        types.Money{Amount: req.Amount, Currency: cur},
		Tip:           types.Money{Amount: req.Tip, Currency: cur},
		Method:        method,
		TransactionID: req.TransactionID,
	})
	if err != nil {
		writeFloorError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, res)
}

type tableStateReq struct {
	State string `json:"state" binding:"required"`
}

func (h *FloorHandler) SetTableState(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid table id")
		return
	}
	var req tableStateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "missing state")
		return
	}
	state, err := table.ParseState(req.State)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.floor.SetTableState(c.Request.Context(), types.ID(id), state)
	if err != nil {
		writeFloorError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, out)
}

func (h *FloorHandler) RecomputeTable(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid table id")
		return
	}
	out, err := h.floor.RecomputeTable(c.Request.Context(), types.ID(id))
	if err != nil {
		writeFloorError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, out)
}

func (h *FloorHandler) Floor(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid venue id")
		return
	}
	tables, err := h.floor.FloorSnapshot(c.Request.Context(), types.ID(id))
	if err != nil {
		writeFloorError(c, err)
		return
	}
	if tables == nil {
		tables = []*table.Table{}
	}
	writeJSON(c, http.StatusOK, gin.H{"venue_id": id, "tables": tables})
}

func (h *FloorHandler) ActiveOrders(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid venue id")
		return
	}
	orders, err := h.floor.ActiveOrders(c.Request.Context(), types.ID(id))
	if err != nil {
		writeFloorError(c, err)
		return
	}
	if orders == nil {
		orders = []*order.Order{}
	}
	writeJSON(c, http.StatusOK, gin.H{"venue_id": id, "orders": orders})
}

type sweepReq struct {
	// Threshold is a Go duration such as "15m".
	Threshold string `json:"threshold"`
	VenueID   string `json:"venue_id"`
	DryRun    bool   `json:"dry_run"`
}

func (h *FloorHandler) Sweep(c *gin.Context) {
	var req sweepReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	threshold := h.threshold
	if req.Threshold != "" {
		d, err := time.ParseDuration(req.Threshold)
		if err != nil || d <= 0 {
			writeError(c, http.StatusBadRequest, "invalid threshold")
			return
		}
		threshold = d
	}
	if req.VenueID != "" && !isValidID(req.VenueID) {
		writeError(c, http.StatusBadRequest, "invalid venue id")
		return
	}
	report, err := h.floor.Sweep(c.Request.Context(), floor.SweepOptions{
		Threshold: threshold,
		VenueID:   types.ID(req.VenueID),
		DryRun:    req.DryRun,
	})
	if err != nil {
		writeFloorError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, report)
}
