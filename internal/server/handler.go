package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zjrosen/provenance/internal/audit"
	"github.com/zjrosen/provenance/internal/cachemanager"
	"github.com/zjrosen/provenance/internal/domain"
	"github.com/zjrosen/provenance/internal/log"
	"github.com/zjrosen/provenance/internal/orchestration"
	"github.com/zjrosen/provenance/internal/orchestration/command"
	"github.com/zjrosen/provenance/internal/orchestration/handler"
	"github.com/zjrosen/provenance/internal/orchestration/metrics"
	"github.com/zjrosen/provenance/internal/orchestration/types"
	"github.com/zjrosen/provenance/internal/pubsub"
)

// Registrar runs registrations submitted through the relay.
type Registrar interface {
	Register(ctx context.Context, req domain.RegistrationRequest) (*handler.RegisterResult, error)
}

// RecordReader serves record lookups.
type RecordReader interface {
	Check(ctx context.Context, rfid string) (*orchestration.RecordView, error)
}

// HandlerConfig holds the collaborators of the HTTP handlers.
type HandlerConfig struct {
	// Store persists received audit entries. Required.
	Store audit.Store
	// StoreKind names the store in /health.
	StoreKind string
	// Registrar enables POST /register-collectible. Nil disables the relay.
	Registrar Registrar
	// Records enables GET /records/:rfid. Optional.
	Records RecordReader
	// Metrics is reported by /health when set.
	Metrics func() map[command.CommandType]metrics.KindMetrics
	// CacheStats is reported by /health when set.
	CacheStats func() cachemanager.Stats
	// LogStream enables GET /debug/logs when set. It returns nil when
	// logging is off.
	LogStream func(ctx context.Context) <-chan pubsub.Event[string]
	// AllowOrigin is the CORS origin header value. Empty allows any origin.
	AllowOrigin string
}

// Handler serves the audit sink and relay endpoints.
type Handler struct {
	cfg     HandlerConfig
	started time.Time
}

// NewHandler validates cfg and creates a Handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("audit store is required")
	}
	return &Handler{cfg: cfg, started: time.Now()}, nil
}

func (h *Handler) relayEnabled() bool { return h.cfg.Registrar != nil }

// Routes returns the gin engine with every route registered.
func (h *Handler) Routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogMiddleware(), CORSMiddleware(h.cfg.AllowOrigin))

	r.POST("/log", h.AppendLog)
	r.GET("/log", h.ListLog)
	r.POST("/register-collectible", h.RegisterCollectible)
	r.GET("/records/:rfid", h.GetRecord)
	r.GET("/health", h.Health)
	r.GET("/debug/logs", h.StreamLogs)
	return r
}

// AppendLog stores the posted JSON object. It always replies 200; the body
// reports whether the entry was stored.
func (h *Handler) AppendLog(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		log.Warn(log.CatHTTP, "log entry rejected", "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "failed"})
		return
	}
	entry, err := h.cfg.Store.Append(c.Request.Context(), body)
	if err != nil {
		log.ErrorErr(log.CatAudit, "log entry not stored", err)
		c.JSON(http.StatusOK, gin.H{"status": "failed"})
		return
	}
	log.Debug(log.CatAudit, "log entry stored", "id", entry.ID, "action", string(entry.Action), "rfid", entry.RFID)
	c.JSON(http.StatusOK, gin.H{"status": "logged"})
}

// ListLog returns stored entries, newest first.
func (h *Handler) ListLog(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(audit.DefaultListLimit)))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	if limit > audit.MaxListLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit cannot exceed %d", audit.MaxListLimit)})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
		return
	}

	entries, err := h.cfg.Store.List(c.Request.Context(), audit.Query{
		Limit:  limit,
		Offset: offset,
		Action: c.Query("action"),
	})
	if err != nil {
		log.ErrorErr(log.CatAudit, "list log entries failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve log entries"})
		return
	}
	if entries == nil {
		entries = []audit.StoredEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

// relayRequest accepts the owner as either "owner" or "bottleOwner".
type relayRequest struct {
	RFID             string `json:"rfid"`
	AuthenticityHash string `json:"authenticityHash"`
	Owner            string `json:"owner"`
	BottleOwner      string `json:"bottleOwner"`
	TokenURI         string `json:"tokenURI"`
}

func (r relayRequest) toDomain() (domain.RegistrationRequest, bool) {
	owner := r.Owner
	if owner == "" {
		owner = r.BottleOwner
	}
	req := domain.RegistrationRequest{
		RFID:             r.RFID,
		AuthenticityHash: r.AuthenticityHash,
		Owner:            owner,
		TokenURI:         r.TokenURI,
	}
	complete := req.RFID != "" && req.AuthenticityHash != "" && req.Owner != "" && req.TokenURI != ""
	return req, complete
}

// RegisterCollectible registers a record with the server's admin signer.
func (h *Handler) RegisterCollectible(c *gin.Context) {
	if h.cfg.Registrar == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "registration relay is disabled"})
		return
	}
	var body relayRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	req, ok := body.toDomain()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing fields"})
		return
	}

	result, err := h.cfg.Registrar.Register(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"txHash": result.TxHash.Hex()})
}

// GetRecord returns the record snapshot for an rfid.
func (h *Handler) GetRecord(c *gin.Context) {
	if h.cfg.Records == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "record lookups are disabled"})
		return
	}
	view, err := h.cfg.Records.Check(c.Request.Context(), c.Param("rfid"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

// Health reports liveness and, when configured, orchestration counters.
func (h *Handler) Health(c *gin.Context) {
	resp := gin.H{
		"status": "ok",
		"store":  h.cfg.StoreKind,
		"relay":  h.relayEnabled(),
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if h.cfg.Metrics != nil {
		resp["metrics"] = h.cfg.Metrics()
	}
	if h.cfg.CacheStats != nil {
		resp["cache"] = h.cfg.CacheStats()
	}
	c.JSON(http.StatusOK, resp)
}

// StreamLogs relays debug log lines as server-sent "log" events until the
// client disconnects.
func (h *Handler) StreamLogs(c *gin.Context) {
	var lines <-chan pubsub.Event[string]
	if h.cfg.LogStream != nil {
		lines = h.cfg.LogStream(c.Request.Context())
	}
	if lines == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "debug logging is off"})
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		ev, ok := pubsub.Next(ctx, lines)
		if !ok {
			return false
		}
		c.SSEvent("log", strings.TrimSuffix(ev.Payload, "\n"))
		return true
	})
}

// statusFor maps orchestration errors to HTTP status codes.
func statusFor(err error) int {
	if errors.Is(err, domain.ErrRecordNotFound) {
		return http.StatusNotFound
	}
	switch types.Classify(err) {
	case types.ClassValidation:
		return http.StatusBadRequest
	case types.ClassPrecondition:
		return http.StatusConflict
	case types.ClassBusy:
		return http.StatusTooManyRequests
	case types.ClassSubmission:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
