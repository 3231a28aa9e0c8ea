package api

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/gin-gonic/gin"

	"github.com/anchor-protocol/anchor-engine/internal/bitcoin"
	"github.com/anchor-protocol/anchor-engine/internal/db"
	"github.com/anchor-protocol/anchor-engine/internal/indexer"
	"github.com/anchor-protocol/anchor-engine/internal/kinds"
	"github.com/anchor-protocol/anchor-engine/internal/txbuilder"
	"github.com/anchor-protocol/anchor-engine/pkg/anchor"
)

// APIHandler serves the read surface over indexed ANCHOR state — message
// lookup, kind-filtered listing, DNS/token/canvas queries, indexing
// progress — plus one write route: publishing a text note through
// internal/txbuilder. The richer kinds (DNS, token) involve ownership
// UTXOs and stay with the dedicated wallet tooling.
type APIHandler struct {
	dbStore   *db.PostgresStore
	btcClient *bitcoin.Client
	wsHub     *Hub
	indexers  []*indexer.Indexer
	builder   *txbuilder.Builder
}

func SetupRouter(dbStore *db.PostgresStore, btcClient *bitcoin.Client, wsHub *Hub, indexers []*indexer.Indexer, builder *txbuilder.Builder) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://anchor.example,https://www.anchor.example
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		dbStore:   dbStore,
		btcClient: btcClient,
		wsHub:     wsHub,
		indexers:  indexers,
		builder:   builder,
	}

	// ── Public endpoints (no auth) ─────────────────────────────
	pub := r.Group("/api/v1")
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/stream", wsHub.Subscribe)
		pub.GET("/scan/progress", handler.handleScanProgress)
	}

	// ── Protected endpoints (require bearer token if API_AUTH_TOKEN set) ──
	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware())
	auth.Use(NewRateLimiter(60, 10).Middleware())
	{
		auth.GET("/message/:txid/:vout", handler.handleGetMessage)
		auth.GET("/messages", handler.handleListByKind)
		auth.GET("/dns/:name", handler.handleGetDomain)
		auth.GET("/token/:ticker", handler.handleGetToken)
		auth.GET("/token/utxo/:txid/:vout", handler.handleGetTokenUTXO)
		auth.GET("/canvas", handler.handleCanvasRegion)
		auth.POST("/publish/text", handler.handlePublishText)
	}

	return r
}

// handleHealth returns engine status and capabilities for service discovery.
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "operational",
		"engine":      "anchor-engine",
		"dbConnected": h.dbStore != nil,
	})
}

// handleGetMessage looks up one stored envelope by its placement.
// GET /api/v1/message/:txid/:vout
func (h *APIHandler) handleGetMessage(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not connected"})
		return
	}
	vout, err := strconv.Atoi(c.Param("vout"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid vout"})
		return
	}
	msg, err := h.dbStore.GetMessage(c.Request.Context(), c.Param("txid"), vout)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if msg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	c.JSON(http.StatusOK, msg)
}

// handleListByKind returns the most recent messages of one kind.
// GET /api/v1/messages?kind=20&limit=50
func (h *APIHandler) handleListByKind(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not connected"})
		return
	}
	kind, err := strconv.Atoi(c.Query("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind query parameter is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	msgs, err := h.dbStore.ListMessagesByKind(c.Request.Context(), kind, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": msgs, "kind": kind, "limit": limit})
}

// handleGetDomain returns a registered domain's current owner and active
// DNS records. GET /api/v1/dns/:name
func (h *APIHandler) handleGetDomain(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not connected"})
		return
	}
	dom, err := h.dbStore.GetDomain(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if dom == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "domain not registered"})
		return
	}
	records, err := h.dbStore.ActiveDNSRecords(c.Request.Context(), dom.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"domain": dom, "records": records})
}

// handleGetToken returns a deployed token's supply and holder state.
// GET /api/v1/token/:ticker
func (h *APIHandler) handleGetToken(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not connected"})
		return
	}
	tok, err := h.dbStore.GetTokenByTicker(c.Request.Context(), strings.ToUpper(c.Param("ticker")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if tok == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "token not deployed"})
		return
	}
	c.JSON(http.StatusOK, tok)
}

// handleGetTokenUTXO reports one token-bearing outpoint's balance and
// spend state. GET /api/v1/token/utxo/:txid/:vout
func (h *APIHandler) handleGetTokenUTXO(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not connected"})
		return
	}
	vout, err := strconv.Atoi(c.Param("vout"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid vout"})
		return
	}
	tokenID, amount, owner, spent, err := h.dbStore.GetTokenUTXO(c.Request.Context(), c.Param("txid"), vout)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if amount == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "token utxo not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tokenId": tokenID,
		"amount":  amount.String(),
		"owner":   owner,
		"spent":   spent,
	})
}

// handleCanvasRegion returns set pixels in a bounded viewport of the
// shared 4580x4580 canvas. GET /api/v1/canvas?x0=0&y0=0&x1=100&y1=100
func (h *APIHandler) handleCanvasRegion(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not connected"})
		return
	}
	x0, _ := strconv.Atoi(c.DefaultQuery("x0", "0"))
	y0, _ := strconv.Atoi(c.DefaultQuery("y0", "0"))
	x1, _ := strconv.Atoi(c.DefaultQuery("x1", "256"))
	y1, _ := strconv.Atoi(c.DefaultQuery("y1", "256"))
	if x1-x0 > 1024 || y1-y0 > 1024 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "viewport too large, max 1024x1024 per request"})
		return
	}
	pixels, err := h.dbStore.CanvasRegion(c.Request.Context(), x0, y0, x1, y1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pixels": pixels, "x0": x0, "y0": y0, "x1": x1, "y1": y1})
}

// handleScanProgress reports every running indexer subsystem's progress.
// Unlike the teacher's historical BlockScanner, this engine's indexers
// poll continuously from the stored watermark rather than needing a
// separate "start scan" trigger, so there is no POST /scan here.
func (h *APIHandler) handleScanProgress(c *gin.Context) {
	progress := make([]indexer.Progress, len(h.indexers))
	for i, idx := range h.indexers {
		progress[i] = idx.GetProgress()
	}
	c.JSON(http.StatusOK, gin.H{"subsystems": progress})
}

// publishTextRequest is the body of POST /api/v1/publish/text.
type publishTextRequest struct {
	Text    string  `json:"text" binding:"required"`
	FeeRate float64 `json:"feeRate"`
	Anchors []struct {
		Txid string `json:"txid" binding:"required"`
		Vout uint8  `json:"vout"`
	} `json:"anchors"`
}

// handlePublishText builds, funds, signs, and broadcasts a transaction
// carrying a text message, optionally replying to parent messages.
// POST /api/v1/publish/text
func (h *APIHandler) handlePublishText(c *gin.Context) {
	if h.builder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "bitcoin wallet not connected"})
		return
	}
	var req publishTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	anchors := make([]anchor.Anchor, 0, len(req.Anchors))
	for _, a := range req.Anchors {
		hash, err := chainhash.NewHashFromStr(a.Txid)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid anchor txid " + a.Txid})
			return
		}
		anchors = append(anchors, anchor.Anchor{Prefix: anchor.TxidToPrefix(*hash), Vout: a.Vout})
	}

	result, err := h.builder.Build(c.Request.Context(), txbuilder.Request{
		Kind:         anchor.KindText,
		Anchors:      anchors,
		Spec:         kinds.TextSpec{},
		Payload:      kinds.TextPayload{Body: req.Text},
		FeeRateSatVB: req.FeeRate,
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"txid":       result.Txid,
		"anchorVout": result.AnchorVout,
		"carrier":    result.CarrierType.String(),
		"feeSats":    result.FeeSats,
	})
}
