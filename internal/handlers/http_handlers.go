package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"

	"lootfan/internal/apperrors"
	"lootfan/internal/reveal"
	"lootfan/internal/services"
)

const (
	fanIDHeader          = "X-Fan-ID"
	idempotencyKeyHeader = "Idempotency-Key"
	fanIDKey             = "fanID"
)

// HTTPHandler holds the dependencies for the HTTP handlers.
type HTTPHandler struct {
	service *services.LootboxService
	reveals *reveal.Registry
	rng     services.RandomSource
}

// NewHTTPHandler creates a new HTTPHandler. rng picks among the wheel
// slices of a prize when aiming the wheel.
func NewHTTPHandler(service *services.LootboxService, reveals *reveal.Registry, rng services.RandomSource) *HTTPHandler {
	if rng == nil {
		rng = services.DefaultRNG()
	}
	return &HTTPHandler{service: service, reveals: reveals, rng: rng}
}

// FanMiddleware identifies the fan from the X-Fan-ID header set by the
// authenticating proxy.
func (h *HTTPHandler) FanMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		fanID := c.GetHeader(fanIDHeader)
		if fanID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHENTICATED",
				"message": "missing " + fanIDHeader + " header",
			})
			return
		}
		c.Set(fanIDKey, fanID)
		c.Next()
	}
}

// RegisterPublicRoutes registers the routes that do not need a fan.
func (h *HTTPHandler) RegisterPublicRoutes(router gin.IRouter) {
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/campaigns/:campaignID", h.GetCampaign)
	router.GET("/campaigns/:campaignID/wheel", h.GetWheel)
	router.GET("/campaigns/:campaignID/packages", h.GetPackages)
	router.GET("/campaigns/:campaignID/financials", h.GetFinancials)
	router.GET("/campaigns/:campaignID/performance", h.GetPerformance)
	router.POST("/campaigns/:campaignID/preview", h.Preview)
}

// RegisterFanRoutes registers the routes that act on behalf of a fan.
func (h *HTTPHandler) RegisterFanRoutes(router gin.IRouter) {
	router.GET("/campaigns/:campaignID/balance", h.GetBalance)
	router.POST("/campaigns/:campaignID/credits", h.PurchaseCredits)
	router.POST("/campaigns/:campaignID/draws", h.PerformDraw)
	router.GET("/reveals/:revealID", h.GetReveal)
	router.POST("/reveals/:revealID/dismiss", h.DismissReveal)
}

// respondError writes err with the status its code maps to.
func respondError(c *gin.Context, err error, extra gin.H) {
	status := apperrors.HTTPStatus(err)
	body := gin.H{"error": apperrors.CodeOf(err), "message": err.Error()}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		body["message"] = appErr.Message
		if len(appErr.Metadata) > 0 {
			body["details"] = appErr.Metadata
		}
	}
	for k, v := range extra {
		body[k] = v
	}
	if status >= http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, body)
}

// GetCampaign returns the campaign, its catalog and the distribution check.
func (h *HTTPHandler) GetCampaign(c *gin.Context) {
	view, err := h.service.GetCampaign(c.Request.Context(), c.Param("campaignID"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetWheel returns the visual slices of the prize wheel.
func (h *HTTPHandler) GetWheel(c *gin.Context) {
	slices, err := h.service.GetWheelSlices(c.Request.Context(), c.Param("campaignID"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slices": slices})
}

// GetPackages returns the credit bundles on sale.
func (h *HTTPHandler) GetPackages(c *gin.Context) {
	packages, err := h.service.GetPackages(c.Request.Context(), c.Param("campaignID"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"packages": packages})
}

// GetFinancials returns the expected-value projection.
func (h *HTTPHandler) GetFinancials(c *gin.Context) {
	snap, err := h.service.GetFinancialSnapshot(c.Request.Context(), c.Param("campaignID"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetPerformance returns the realized ROI.
func (h *HTTPHandler) GetPerformance(c *gin.Context) {
	perf, err := h.service.GetRealizedPerformance(c.Request.Context(), c.Param("campaignID"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, perf)
}

// Preview runs a test-mode draw and returns its animation plan.
func (h *HTTPHandler) Preview(c *gin.Context) {
	result, err := h.service.Preview(c.Request.Context(), c.Param("campaignID"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	plan, err := reveal.BuildPlan(result.Animation, reveal.OutcomeOf(result), result.Wheel, h.rng)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result, "plan": plan})
}

// GetBalance returns the fan's credits and free spin status.
func (h *HTTPHandler) GetBalance(c *gin.Context) {
	ctx := c.Request.Context()
	fanID := c.GetString(fanIDKey)
	campaignID := c.Param("campaignID")

	balance, err := h.service.Balance(ctx, fanID, campaignID)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	hasFreeSpin, err := h.service.HasFreeSpin(ctx, fanID, campaignID)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance, "hasFreeSpin": hasFreeSpin})
}

type purchaseRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

// PurchaseCredits buys one of the campaign's credit packages.
func (h *HTTPHandler) PurchaseCredits(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid purchase request", err), nil)
		return
	}

	result, err := h.service.PurchasePackage(c.Request.Context(), c.GetString(fanIDKey), c.Param("campaignID"),
		req.Quantity, c.GetHeader(idempotencyKeyHeader))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// PerformDraw spends a credit, commits the outcome and starts its reveal.
// The plan names the prize id where the animation has to land on it (wheel
// slice, reel symbols); the prize itself, with its name, variant and image,
// is only returned by GetReveal once the reveal settles.
func (h *HTTPHandler) PerformDraw(c *gin.Context) {
	ctx := c.Request.Context()
	fanID := c.GetString(fanIDKey)
	campaignID := c.Param("campaignID")

	view, err := h.service.GetCampaign(ctx, campaignID)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	session, err := h.reveals.Begin(fanID, view.Campaign.Animation)
	if err != nil {
		respondError(c, err, nil)
		return
	}

	result, err := h.service.Draw(ctx, fanID, campaignID, c.GetHeader(idempotencyKeyHeader))
	if err != nil {
		h.reveals.Fail(session, err)
		respondError(c, err, gin.H{"revealId": session.ID()})
		return
	}
	outcome := reveal.OutcomeOf(result)
	plan, err := reveal.BuildPlan(result.Animation, outcome, result.Wheel, h.rng)
	if err == nil {
		err = h.reveals.Commit(session, outcome, plan)
	}
	if err != nil {
		// The draw is committed; the fan still owns the prize.
		logger.Errorf("draw: reveal of record %s for fan %s failed: %v", result.RecordID, fanID, err)
		h.reveals.Fail(session, err)
		respondError(c, err, gin.H{"revealId": session.ID(), "recordId": result.RecordID})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"revealId":         session.ID(),
		"recordId":         result.RecordID,
		"plan":             plan,
		"remainingBalance": result.RemainingBalance,
		"bonusGranted":     result.BonusGranted,
		"freeSpinUsed":     result.FreeSpinUsed,
		"replayed":         result.Replayed,
	})
}

// GetReveal reports the reveal state; the prize appears once it settled.
func (h *HTTPHandler) GetReveal(c *gin.Context) {
	view, err := h.reveals.View(c.Param("revealID"), c.GetString(fanIDKey))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, view)
}

// DismissReveal closes a settled or aborted reveal.
func (h *HTTPHandler) DismissReveal(c *gin.Context) {
	if err := h.reveals.Dismiss(c.Param("revealID"), c.GetString(fanIDKey)); err != nil {
		respondError(c, err, nil)
		return
	}
	c.Status(http.StatusNoContent)
}
