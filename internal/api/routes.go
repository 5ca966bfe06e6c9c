package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rawblock/coinselect-engine/internal/db"
	"github.com/rawblock/coinselect-engine/internal/selection"
	"github.com/rawblock/coinselect-engine/pkg/models"
)

// maxCandidates caps the candidate set for a single request to prevent
// runaway memory use from unconstrained requests. The solver time limit
// bounds CPU; this bounds the rest.
const maxCandidates = 100_000

// btcToSats converts a float64 BTC value to satoshis using btcutil.NewAmount
// which performs correct IEEE-754 rounding instead of naive float multiplication.
func btcToSats(btc float64) (int64, error) {
	amt, err := btcutil.NewAmount(btc)
	if err != nil {
		return 0, err
	}
	return int64(amt), nil
}

// synthesizeTxid derives a well-formed 64-hex transaction id for a UTXO
// supplied without one. Identifier synthesis belongs to this wrapper —
// the solver core only requires outpoints to be unique.
func synthesizeTxid() string {
	return chainhash.HashH([]byte(uuid.NewString())).String()
}

type APIHandler struct {
	dbStore *db.PostgresStore
	wsHub   *Hub
	solver  selection.Solver
}

func SetupRouter(dbStore *db.PostgresStore, wsHub *Hub, solver selection.Solver) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://rawblock.net,https://www.rawblock.net
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
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		dbStore: dbStore,
		wsHub:   wsHub,
		solver:  solver,
	}

	// ── Public endpoints (no auth) ─────────────────────────────
	pub := r.Group("/api/v1")
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/stream", wsHub.Subscribe)
	}

	// ── Protected endpoints (require bearer token if API_AUTH_TOKEN set) ──
	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware())
	// Rate-limit solves to 60 req/min per IP (burst=10): each request can
	// burn a full solver time limit of CPU.
	auth.Use(NewRateLimiter(60, 10).Middleware())
	{
		auth.POST("/select", handler.handleSelect)
		auth.GET("/history", handler.handleHistory)
	}

	return r
}

// selectRequest mirrors the canister-style solve boundary: fixed
// parameters plus the candidate list. Decimal fields accept exact string
// decimals or plain JSON numbers (rounded at micro-vbyte precision).
type selectRequest struct {
	Params struct {
		TargetSats      int64           `json:"target_sats"`
		FeeRateSatPerVB models.FeeRate  `json:"fee_rate_sat_per_vb"`
		MinChangeSats   int64           `json:"min_change_sats"`
		Sizing          models.TxSizing `json:"sizing"`
	} `json:"params"`
	UTXOs []utxoIn `json:"utxos"`
}

type utxoIn struct {
	Txid        string        `json:"txid"` // optional; synthesized when absent
	Vout        *uint32       `json:"vout"` // optional; candidate index when absent
	ValueSats   int64         `json:"value_sats"`
	ValueBTC    *float64      `json:"value_btc"` // alternative to value_sats
	InputVBytes models.VBytes `json:"input_vbytes"`
}

// handleSelect runs one coin selection and returns the optimal result.
// POST /api/v1/select
func (h *APIHandler) handleSelect(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if len(req.UTXOs) > maxCandidates {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":         "Candidate set too large",
			"maxCandidates": maxCandidates,
		})
		return
	}

	utxos := make([]models.UTXO, len(req.UTXOs))
	for i, in := range req.UTXOs {
		txid := in.Txid
		vout := uint32(i)
		if txid == "" {
			txid = synthesizeTxid()
		} else {
			if _, err := chainhash.NewHashFromStr(txid); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid txid format", "txid": txid})
				return
			}
			if in.Vout != nil {
				vout = *in.Vout
			}
		}

		value := in.ValueSats
		if in.ValueBTC != nil {
			sats, err := btcToSats(*in.ValueBTC)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid value_btc", "details": err.Error()})
				return
			}
			value = sats
		}

		utxos[i] = models.UTXO{
			Txid:        txid,
			Vout:        vout,
			ValueSats:   value,
			InputVBytes: in.InputVBytes,
		}
	}

	params := models.SelectionParams{
		TargetSats:      req.Params.TargetSats,
		FeeRateSatPerVB: req.Params.FeeRateSatPerVB,
		MinChangeSats:   req.Params.MinChangeSats,
		Sizing:          req.Params.Sizing,
	}

	model, err := selection.NewModel(utxos, params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start := time.Now()
	res, err := h.solver.Solve(model)
	elapsed := time.Since(start)

	run := db.SelectionRun{
		TargetSats:    params.TargetSats,
		FeeRate:       params.FeeRateSatPerVB.String(),
		MinChangeSats: params.MinChangeSats,
		UTXOCount:     len(utxos),
		DurationMS:    elapsed.Milliseconds(),
	}

	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, selection.ErrInfeasible):
			status = http.StatusUnprocessableEntity
			run.Status = "infeasible"
		case errors.Is(err, selection.ErrTimeout):
			status = http.StatusGatewayTimeout
			run.Status = "timeout"
		default:
			run.Status = "error"
		}
		run.Error = err.Error()
		h.persistRun(run)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	run.Status = "solved"
	run.FeeSats = res.FeeSats
	run.ChangeSats = res.ChangeSats
	run.TxVBytes = res.TxVBytes
	h.persistRun(run)

	h.broadcastSelection(res, elapsed)

	c.JSON(http.StatusOK, gin.H{
		"result": gin.H{
			"selected":          res.Selected,
			"change_sats":       res.ChangeSats,
			"fee_sats":          res.FeeSats,
			"tx_vbytes":         res.TxVBytes,
			"total_input_sats":  res.TotalInputSats(),
			"total_output_sats": res.TotalOutputSats(),
		},
		"durationMs": elapsed.Milliseconds(),
	})
}

func (h *APIHandler) persistRun(run db.SelectionRun) {
	if h.dbStore == nil {
		return
	}
	if err := h.dbStore.SaveSelectionRun(context.Background(), run); err != nil {
		log.Printf("Failed to save selection run to DB: %v", err)
	}
}

// handleHistory returns recent selection runs.
// GET /api/v1/history?page=1&limit=50
func (h *APIHandler) handleHistory(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	runs, totalCount, err := h.dbStore.GetRecentRuns(c.Request.Context(), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch run history", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       runs,
		"totalCount": totalCount,
		"page":       page,
		"limit":      limit,
	})
}

// handleHealth returns engine status and capabilities for service discovery
func (h *APIHandler) handleHealth(c *gin.Context) {
	dbConnected := h.dbStore != nil

	c.JSON(http.StatusOK, gin.H{
		"status": "operational",
		"engine": "RawBlock Coin Selection Engine v1.0",
		"capabilities": gin.H{
			"milp_solver":        true,
			"exact_arithmetic":   true,
			"deterministic":      true,
			"time_limit_seconds": h.solver.TimeLimitSeconds,
		},
		"dbConnected": dbConnected,
	})
}

// broadcastSelection pushes a solve event to WebSocket subscribers.
func (h *APIHandler) broadcastSelection(res models.SelectionResult, elapsed time.Duration) {
	if h.wsHub == nil {
		return
	}
	payload := gin.H{
		"type": "selection_event",
		"event": gin.H{
			"inputs":      len(res.Selected),
			"fee_sats":    res.FeeSats,
			"change_sats": res.ChangeSats,
			"tx_vbytes":   res.TxVBytes,
			"durationMs":  elapsed.Milliseconds(),
		},
	}
	eventBytes, _ := json.Marshal(payload)
	h.wsHub.Broadcast(eventBytes)
}
