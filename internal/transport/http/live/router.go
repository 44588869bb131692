package livehttp

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"tradeengine/internal/confluence"
	"tradeengine/internal/logger"
	"tradeengine/internal/pkg/symbol"
	"tradeengine/internal/position"
	"tradeengine/internal/signal"
	"tradeengine/internal/store/journal"
)

// SignalService is the part of signal.Manager the API drives.
type SignalService interface {
	Get(ctx context.Context, id string) (*signal.Signal, error)
	List(ctx context.Context, symbol string, statuses ...signal.Status) ([]*signal.Signal, error)
	Approve(ctx context.Context, id, approver string) (*signal.Signal, error)
	Reject(ctx context.Context, id, rejector, reason string) (*signal.Signal, error)
	Confirm(ctx context.Context, id, user string, accept bool, reason string) (*signal.Signal, error)
}

type PositionService interface {
	Get(ctx context.Context, id string) (*position.Position, error)
	List(ctx context.Context, symbol string, statuses ...position.Status) ([]*position.Position, error)
	Exit(ctx context.Context, id string, price decimal.Decimal, reason string) (*position.Position, error)
}

// EngineService is optional; without it the confluence and execute routes answer 503.
type EngineService interface {
	Confluence(ctx context.Context, symbol string) confluence.Verdict
	ExecuteSignal(ctx context.Context, id string) (*position.Position, error)
}

type HistoryReader interface {
	List(ctx context.Context, entity, id string) ([]journal.Entry, error)
}

type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Router serves /api: signal review, positions, on-demand confluence and log tails.
type Router struct {
	signals   SignalService
	positions PositionService
	engine    EngineService
	history   HistoryReader
	logPaths  map[string]string
	logNames  []string
}

func NewRouter(cfg ServerConfig) *Router {
	names := make([]string, 0, len(cfg.LogPaths))
	for name, path := range cfg.LogPaths {
		if strings.TrimSpace(path) == "" || strings.TrimSpace(name) == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return &Router{
		signals:   cfg.Signals,
		positions: cfg.Positions,
		engine:    cfg.Engine,
		history:   cfg.History,
		logPaths:  cfg.LogPaths,
		logNames:  names,
	}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/signals", r.handleListSignals)
	group.GET("/signals/:id", r.handleGetSignal)
	group.GET("/signals/:id/history", r.handleHistory(journal.EntitySignal))
	group.POST("/signals/:id/approve", r.handleApprove)
	group.POST("/signals/:id/reject", r.handleReject)
	group.POST("/signals/:id/confirm", r.handleConfirm)
	group.POST("/signals/:id/execute", r.handleExecute)
	group.GET("/positions", r.handleListPositions)
	group.GET("/positions/:id", r.handleGetPosition)
	group.GET("/positions/:id/history", r.handleHistory(journal.EntityPosition))
	group.POST("/positions/:id/close", r.handleClosePosition)
	group.GET("/confluence/:symbol", r.handleConfluence)
	group.GET("/logs", r.handleLogs)
}

func (r *Router) handleListSignals(c *gin.Context) {
	statuses, err := parseStatuses(c.Query("status"), signal.ParseStatus)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sym := querySymbol(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	list, err := r.signals.List(ctx, sym, statuses...)
	if err != nil {
		logger.Errorf("[api] list signals failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	list = limitSlice(list, c)
	c.JSON(http.StatusOK, gin.H{"signals": list, "count": len(list)})
}

func (r *Router) handleGetSignal(c *gin.Context) {
	sig, err := r.signals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signal": sig})
}

type reviewRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
	Accept *bool  `json:"accept"`
}

func bindReview(c *gin.Context) (reviewRequest, bool) {
	var req reviewRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return req, false
		}
	}
	req.Actor = strings.TrimSpace(req.Actor)
	if req.Actor == "" {
		req.Actor = "operator"
	}
	return req, true
}

func (r *Router) handleApprove(c *gin.Context) {
	req, ok := bindReview(c)
	if !ok {
		return
	}
	sig, err := r.signals.Approve(c.Request.Context(), c.Param("id"), req.Actor)
	if err != nil {
		writeError(c, err)
		return
	}
	logger.Infof("[api] signal approved id=%s by=%s ip=%s", sig.ID, req.Actor, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"signal": sig})
}

func (r *Router) handleReject(c *gin.Context) {
	req, ok := bindReview(c)
	if !ok {
		return
	}
	sig, err := r.signals.Reject(c.Request.Context(), c.Param("id"), req.Actor, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	logger.Infof("[api] signal rejected id=%s by=%s reason=%q ip=%s", sig.ID, req.Actor, req.Reason, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"signal": sig})
}

func (r *Router) handleConfirm(c *gin.Context) {
	req, ok := bindReview(c)
	if !ok {
		return
	}
	if req.Accept == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "accept is required"})
		return
	}
	sig, err := r.signals.Confirm(c.Request.Context(), c.Param("id"), req.Actor, *req.Accept, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	logger.Infof("[api] signal confirmation id=%s accept=%v by=%s ip=%s", sig.ID, *req.Accept, req.Actor, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"signal": sig})
}

func (r *Router) handleExecute(c *gin.Context) {
	if r.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine not running"})
		return
	}
	p, err := r.engine.ExecuteSignal(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": p})
}

func (r *Router) handleListPositions(c *gin.Context) {
	statuses, err := parseStatuses(c.Query("status"), position.ParseStatus)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	list, err := r.positions.List(ctx, querySymbol(c), statuses...)
	if err != nil {
		logger.Errorf("[api] list positions failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	list = limitSlice(list, c)
	c.JSON(http.StatusOK, gin.H{"positions": list, "count": len(list)})
}

func (r *Router) handleGetPosition(c *gin.Context) {
	p, err := r.positions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": p})
}

type closeRequest struct {
	Price decimal.Decimal `json:"price"`
}

func (r *Router) handleClosePosition(c *gin.Context) {
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Price.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price must be positive"})
		return
	}
	p, err := r.positions.Exit(c.Request.Context(), c.Param("id"), req.Price, position.ExitManual)
	if err != nil {
		writeError(c, err)
		return
	}
	logger.Infof("[api] position closed id=%s price=%s ip=%s", p.ID, req.Price, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"position": p})
}

func (r *Router) handleHistory(entity string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.history == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
			return
		}
		entries, err := r.history.List(c.Request.Context(), entity, c.Param("id"))
		if err != nil {
			logger.Errorf("[api] %s history failed id=%s err=%v", entity, c.Param("id"), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	}
}

func (r *Router) handleConfluence(c *gin.Context) {
	if r.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine not running"})
		return
	}
	sym := symbol.Normalize(c.Param("symbol"))
	if !symbol.IsValid(sym) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid symbol"})
		return
	}
	v := r.engine.Confluence(c.Request.Context(), sym)
	c.JSON(http.StatusOK, gin.H{"confluence": v})
}

func (r *Router) handleLogs(c *gin.Context) {
	if len(r.logNames) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no log files configured"})
		return
	}
	name := strings.TrimSpace(c.Query("name"))
	path := strings.TrimSpace(r.logPaths[name])
	if path == "" {
		name = r.logNames[0]
		path = r.logPaths[name]
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if limit <= 0 {
		limit = 200
	}
	lines, err := readLastLines(path, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "name": name})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":      name,
		"lines":     lines,
		"available": r.logNames,
	})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, signal.ErrNotFound), errors.Is(err, position.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, signal.ErrInvalidState), errors.Is(err, position.ErrTerminal):
		status = http.StatusConflict
	case errors.Is(err, signal.ErrMissingField), errors.Is(err, position.ErrOverClose):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		logger.Errorf("[api] %s %s failed ip=%s err=%v", c.Request.Method, c.Request.URL.Path, c.ClientIP(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func querySymbol(c *gin.Context) string {
	raw := strings.TrimSpace(c.Query("symbol"))
	if raw == "" {
		return ""
	}
	return symbol.Normalize(raw)
}

// parseStatuses accepts a comma-separated list such as "OPEN,PARTIALLY_CLOSED".
func parseStatuses[S any](raw string, parse func(string) (S, error)) ([]S, error) {
	var out []S
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		s, err := parse(part)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func limitSlice[T any](list []T, c *gin.Context) []T {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if limit > 500 {
		limit = 500
	}
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}
