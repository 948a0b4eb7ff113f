package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/attribution"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

// SubmitOrder handles POST /api/orders
func (h *Handlers) SubmitOrder(c *gin.Context) {
	var req models.SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind order request", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	// Values captured on the landing page fill whatever the body leaves out.
	cookieAttr, record := attribution.FromRequest(c.Request)
	req.UTM = req.UTM.Merge(cookieAttr)
	if req.AdSource == "" && record != nil {
		req.AdSource = record.Label()
	}

	result, err := h.orderService.SubmitOrder(c.Request.Context(), &req, requestMeta(c))
	if err != nil {
		handleError(c, err)
		return
	}

	h.clearCart(c)

	c.JSON(http.StatusCreated, result)
}

// SubmitFeedback handles POST /api/feedback
func (h *Handlers) SubmitFeedback(c *gin.Context) {
	var req models.SubmitFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind feedback request", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.orderService.SubmitFeedback(c.Request.Context(), &req, requestMeta(c))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (h *Handlers) clearCart(c *gin.Context) {
	if h.cartService == nil {
		return
	}
	sessionID, ok := cartSession(c)
	if !ok {
		return
	}
	if err := h.cartService.Clear(c.Request.Context(), sessionID); err != nil {
		h.logger.Warn("Failed to clear cart after order", logging.Fields{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}

func requestMeta(c *gin.Context) models.RequestMeta {
	return models.RequestMeta{
		ClientIP:       c.ClientIP(),
		UserAgent:      c.Request.UserAgent(),
		Referer:        c.Request.Referer(),
		RequestID:      middleware.RequestIDFrom(c.Request.Context()),
		IdempotencyKey: c.GetHeader(middleware.HeaderIdempotencyKey),
	}
}

func handleError(c *gin.Context, err error) {
	var validationErr *apperrors.ValidationError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": validationErr.Error(),
			"field": validationErr.Field,
		})
	case errors.Is(err, apperrors.ErrSubmissionInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "submission already in progress"})
	case errors.Is(err, apperrors.ErrRemoteRead), errors.Is(err, apperrors.ErrRemoteWrite):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	case errors.Is(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
