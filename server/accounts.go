package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradekeeper/journal"
	"github.com/rustyeddy/tradekeeper/market"
	"github.com/rustyeddy/tradekeeper/reconcile"
	"github.com/rustyeddy/tradekeeper/risk"
)

func (s *Server) positions(c *gin.Context) {
	ps, err := current(c).Positions()
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, ps, map[string]any{"count": len(ps)})
}

func (s *Server) trades(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	trades, err := current(c).Ledger().Query(c.Request.Context(), f)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, trades, map[string]any{"count": len(trades)})
}

func (s *Server) trade(c *gin.Context) {
	t, err := current(c).Ledger().Get(c.Request.Context(), c.Param("trade_id"))
	if errors.Is(err, journal.ErrNotFound) {
		Error(c, http.StatusNotFound, "trade not found", nil)
		return
	}
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, t, nil)
}

func (s *Server) stats(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	st, err := current(c).Ledger().SummaryStats(c.Request.Context(), f)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, st, nil)
}

var contentTypes = map[journal.Format]string{
	journal.FormatCSV:   "text/csv; charset=utf-8",
	journal.FormatJSON:  "application/json",
	journal.FormatJSONL: "application/x-ndjson",
	journal.FormatOrg:   "text/plain; charset=utf-8",
}

func (s *Server) export(c *gin.Context) {
	format, err := journal.ParseFormat(c.DefaultQuery("format", string(journal.FormatCSV)))
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	f, err := parseFilter(c)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	body, err := current(c).Ledger().Export(c.Request.Context(), f, format)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	c.Data(http.StatusOK, contentTypes[format], body)
}

func (s *Server) reconcile(c *gin.Context) {
	res, err := current(c).Reconcile(c.Request.Context())
	switch {
	case errors.Is(err, reconcile.ErrCycleInProgress):
		Error(c, http.StatusConflict, err.Error(), nil)
	case err != nil:
		Error(c, http.StatusBadGateway, err.Error(), map[string]any{"result": res})
	default:
		Ok(c, res, nil)
	}
}

type admissionRequest struct {
	Proposal risk.Proposal `json:"proposal"`
	Market   risk.Market   `json:"market"`
	// Candles, when present, fill the market fields left unset.
	Candles []market.Candle `json:"candles,omitempty"`
}

func (s *Server) admission(c *gin.Context) {
	var req admissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid json: "+err.Error(), nil)
		return
	}
	a := current(c)
	mkt := req.Market
	if len(req.Candles) > 0 {
		var err error
		if mkt, err = a.MarketFromCandles(req.Proposal.Symbol, req.Candles, mkt); err != nil {
			Error(c, http.StatusInternalServerError, err.Error(), nil)
			return
		}
	}
	d, err := a.Admit(c.Request.Context(), req.Proposal, mkt)
	if errors.Is(err, risk.ErrInvalidContext) {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, d, nil)
}

func (s *Server) registerOrder(c *gin.Context) {
	var tag reconcile.OrderTag
	if err := c.ShouldBindJSON(&tag); err != nil {
		Error(c, http.StatusBadRequest, "invalid json: "+err.Error(), nil)
		return
	}
	if err := tag.Validate(); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := current(c).RegisterOrder(tag); err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, tag, nil)
}

func (s *Server) reservations(c *gin.Context) {
	Ok(c, current(c).Reservations(c.Param("symbol")), nil)
}

func (s *Server) releaseReservation(c *gin.Context) {
	orderID := strings.TrimSpace(c.Query("order_id"))
	if orderID == "" {
		Error(c, http.StatusBadRequest, "order_id is required", nil)
		return
	}
	if !current(c).Release(c.Param("symbol"), orderID) {
		Error(c, http.StatusNotFound, "no reservation for order "+orderID, nil)
		return
	}
	Ok(c, gin.H{"released": orderID}, nil)
}

// parseFilter reads the ledger filter from the query string. Times are
// RFC3339; from is inclusive and to exclusive.
func parseFilter(c *gin.Context) (journal.Filter, error) {
	f := journal.Filter{
		Symbol:   strings.TrimSpace(c.Query("symbol")),
		Strategy: strings.TrimSpace(c.Query("strategy")),
	}
	if v := c.Query("exit_type"); v != "" {
		et, err := journal.ParseExitType(v)
		if err != nil {
			return f, err
		}
		f.ExitType = et
	}
	var err error
	if f.From, err = timeQuery(c, "from"); err != nil {
		return f, err
	}
	if f.To, err = timeQuery(c, "to"); err != nil {
		return f, err
	}
	if f.MinPnLPct, err = decimalQuery(c, "min_pnl_pct"); err != nil {
		return f, err
	}
	if f.MaxPnLPct, err = decimalQuery(c, "max_pnl_pct"); err != nil {
		return f, err
	}
	if v := c.Query("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			return f, errors.New("limit must be a non-negative integer")
		}
	}
	return f, nil
}

func timeQuery(c *gin.Context, key string) (time.Time, error) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return ts.UTC(), nil
}

func decimalQuery(c *gin.Context, key string) (*decimal.Decimal, error) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, errors.New(key + " must be a number")
	}
	return &d, nil
}
