package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-emergency-alerts/internal/alerting"
	"github.com/mr1hm/go-emergency-alerts/internal/dispatch"
	"github.com/mr1hm/go-emergency-alerts/internal/ingestion"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
	"github.com/mr1hm/go-emergency-alerts/internal/stats"
)

// AlertService is the alert engine as seen by the HTTP layer.
type AlertService interface {
	CreateAlert(ctx context.Context, in alerting.AlertInput, createdBy string) (*models.Alert, error)
	UpdateDraft(ctx context.Context, id string, in alerting.AlertInput) (*models.Alert, error)
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	ListAlerts(ctx context.Context, opts repository.Filter) ([]models.Alert, error)
	ActivateAlert(ctx context.Context, id string) (*alerting.Activation, error)
	CancelAlert(ctx context.Context, id string) (*models.Alert, error)
	ArchiveAlert(ctx context.Context, id string) (*models.Alert, error)
	ResendFailedNotifications(ctx context.Context, id string) (*dispatch.Summary, error)
	GetAlertDeliveryStatus(ctx context.Context, id string) (*stats.DeliveryStatus, error)
	RespondToAlert(ctx context.Context, alertID, recipientID string, status models.ResponseStatus, feedback string) (*models.Response, error)
	ListActiveAlertsForRecipient(ctx context.Context, recipientID string) ([]models.Alert, error)
	ListPublicAlerts(ctx context.Context) ([]models.Alert, error)
	ListDisasterTypes(ctx context.Context) ([]models.DisasterType, error)
}

type ReceiptSubmitter interface {
	Submit(ctx context.Context, r *models.Receipt) error
}

type Handler struct {
	service  AlertService
	receipts ReceiptSubmitter
	verifier *Verifier
}

func NewHandler(service AlertService, receipts ReceiptSubmitter, verifier *Verifier) *Handler {
	return &Handler{
		service:  service,
		receipts: receipts,
		verifier: verifier,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/api/public/alerts", h.listPublicAlerts)
	r.GET("/api/alerts.geojson", h.alertsGeoJSON)
	r.GET("/api/disaster-types", h.listDisasterTypes)

	ops := r.Group("/api/alerts", AuthMiddleware(h.verifier, RoleOperator))
	ops.POST("", h.createAlert)
	ops.GET("", h.listAlerts)
	ops.GET("/:id", h.getAlert)
	ops.PUT("/:id", h.updateDraft)
	ops.POST("/:id/activate", h.activateAlert)
	ops.POST("/:id/cancel", h.cancelAlert)
	ops.POST("/:id/archive", h.archiveAlert)
	ops.POST("/:id/resend", h.resendFailed)
	ops.GET("/:id/delivery-status", h.deliveryStatus)

	citizen := AuthMiddleware(h.verifier, RoleCitizen)
	r.POST("/api/alerts/:id/responses", citizen, h.respond)
	r.GET("/api/me/alerts", citizen, h.myAlerts)

	r.POST("/api/receipts", AuthMiddleware(h.verifier, RoleProvider, RoleOperator), h.submitReceipt)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps the alerting error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case alerting.IsValidation(err), errors.Is(err, ingestion.ErrInvalidReceipt):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, alerting.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, alerting.ErrStateConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *Handler) createAlert(c *gin.Context) {
	var in alerting.AlertInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	a, err := h.service.CreateAlert(c.Request.Context(), in, claimsFrom(c).Subject)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *Handler) updateDraft(c *gin.Context) {
	var in alerting.AlertInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	a, err := h.service.UpdateDraft(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) getAlert(c *gin.Context) {
	a, err := h.service.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) listAlerts(c *gin.Context) {
	filter := repository.Filter{
		Limit: 20, // Default to 20 alerts if limit param not supplied
	}

	if s := c.Query("status"); s != "" {
		status := models.AlertStatus(s)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
			return
		}
		filter.Status = &status
	}
	if s := c.Query("severity"); s != "" {
		severity := models.AlertSeverity(s)
		if !severity.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown severity"})
			return
		}
		filter.Severity = &severity
	}
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= 500 {
			filter.Limit = lim
		}
	}
	if o := c.Query("offset"); o != "" {
		if off, err := strconv.Atoi(o); err == nil && off >= 0 {
			filter.Offset = off
		}
	}

	alerts, err := h.service.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": nonNil(alerts)})
}

func (h *Handler) activateAlert(c *gin.Context) {
	act, err := h.service.ActivateAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"alert":              act.Alert,
		"summary":            act.Summary,
		"total_target_users": act.TotalTargetUsers,
		"sent":               act.Summary.Sent(),
		"failed":             act.Summary.Failed(),
	})
}

func (h *Handler) cancelAlert(c *gin.Context) {
	a, err := h.service.CancelAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) archiveAlert(c *gin.Context) {
	a, err := h.service.ArchiveAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) resendFailed(c *gin.Context) {
	summary, err := h.service.ResendFailedNotifications(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"summary": summary,
		"sent":    summary.Sent(),
		"failed":  summary.Failed(),
	})
}

func (h *Handler) deliveryStatus(c *gin.Context) {
	ds, err := h.service.GetAlertDeliveryStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ds)
}

type respondRequest struct {
	Status   models.ResponseStatus `json:"status"`
	Feedback string                `json:"feedback"`
}

func (h *Handler) respond(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	resp, err := h.service.RespondToAlert(c.Request.Context(), c.Param("id"), claimsFrom(c).Subject, req.Status, req.Feedback)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) myAlerts(c *gin.Context) {
	alerts, err := h.service.ListActiveAlertsForRecipient(c.Request.Context(), claimsFrom(c).Subject)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": nonNil(alerts)})
}

func (h *Handler) listPublicAlerts(c *gin.Context) {
	alerts, err := h.service.ListPublicAlerts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": nonNil(alerts)})
}

func (h *Handler) alertsGeoJSON(c *gin.Context) {
	alerts, err := h.service.ListPublicAlerts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to fetch alerts",
		})
		return
	}

	fc := toGeoJSON(alerts)
	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, fc)
}

func (h *Handler) listDisasterTypes(c *gin.Context) {
	types, err := h.service.ListDisasterTypes(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if types == nil {
		types = []models.DisasterType{}
	}
	c.JSON(http.StatusOK, gin.H{"disaster_types": types})
}

// submitReceipt is the provider webhook. Receipts are applied asynchronously.
func (h *Handler) submitReceipt(c *gin.Context) {
	var r models.Receipt
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.receipts.Submit(c.Request.Context(), &r); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func nonNil(alerts []models.Alert) []models.Alert {
	if alerts == nil {
		return []models.Alert{}
	}
	return alerts
}
