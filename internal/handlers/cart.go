package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

const (
	cartCookie       = "cart_session"
	cartCookieMaxAge = 30 * 24 * time.Hour
	sseKeepAlive     = 25 * time.Second
)

type addCartItemRequest struct {
	ProductID models.ItemID `json:"productId"`
	Quantity  int           `json:"quantity"`
}

type cartResponse struct {
	Items []models.CartLine `json:"items"`
	Count int               `json:"count"`
}

func newCartResponse(lines []models.CartLine) cartResponse {
	count := 0
	for _, l := range lines {
		count += l.Quantity
	}
	return cartResponse{Items: lines, Count: count}
}

// GetCart handles GET /api/cart
func (h *Handlers) GetCart(c *gin.Context) {
	sessionID, ok := cartSession(c)
	if !ok {
		c.JSON(http.StatusOK, newCartResponse([]models.CartLine{}))
		return
	}

	lines, err := h.cartService.Get(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("Failed to load cart", logging.Fields{"session_id": sessionID, "error": err.Error()})
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, newCartResponse(lines))
}

// AddCartItem handles POST /api/cart/items
func (h *Handlers) AddCartItem(c *gin.Context) {
	var req addCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	sessionID := ensureCartSession(c)
	lines, err := h.cartService.Add(c.Request.Context(), sessionID, req.ProductID, req.Quantity)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, newCartResponse(lines))
}

// RemoveCartItem handles DELETE /api/cart/items/:product_id
func (h *Handlers) RemoveCartItem(c *gin.Context) {
	sessionID, ok := cartSession(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	ctx := c.Request.Context()
	removed, err := h.cartService.Remove(ctx, sessionID, models.ItemID(c.Param("product_id")))
	if err != nil {
		handleError(c, err)
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	lines, err := h.cartService.Get(ctx, sessionID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(lines))
}

// CartEvents handles GET /api/cart/events. It streams the session's item count as
// server-sent events, starting with the current value.
func (h *Handlers) CartEvents(c *gin.Context) {
	sessionID := ensureCartSession(c)
	ctx := c.Request.Context()

	updates, cancel := h.cartService.Broker().Subscribe(sessionID)
	defer cancel()

	count, err := h.cartService.Count(ctx, sessionID)
	if err != nil {
		h.logger.Warn("Failed to load cart count", logging.Fields{"session_id": sessionID, "error": err.Error()})
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("count", count)
	c.Writer.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case n, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("count", n)
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", "")
			return true
		}
	})
}

// cartSession returns the session id from the cart cookie when it holds a valid one.
func cartSession(c *gin.Context) (string, bool) {
	value, err := c.Cookie(cartCookie)
	if err != nil {
		return "", false
	}
	if _, err := uuid.Parse(value); err != nil {
		return "", false
	}
	return value, true
}

func ensureCartSession(c *gin.Context) string {
	if sessionID, ok := cartSession(c); ok {
		return sessionID
	}

	sessionID := uuid.NewString()
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     cartCookie,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(cartCookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sessionID
}
