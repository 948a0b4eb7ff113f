package handlers

import (
	"context"

	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/cart"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/service"
)

// ReadinessCheck reports whether one dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Handlers holds all HTTP handlers for the storefront service.
type Handlers struct {
	orderService *service.OrderService
	cartService  *cart.Service
	config       *config.Config
	logger       *logging.LoggerV2
	checks       map[string]ReadinessCheck
}

// NewHandlers creates a new handlers instance. cartService may be nil when the cart
// feature is disabled.
func NewHandlers(
	orderService *service.OrderService,
	cartService *cart.Service,
	cfg *config.Config,
) *Handlers {
	return &Handlers{
		orderService: orderService,
		cartService:  cartService,
		config:       cfg,
		logger:       logging.NewLoggerV2("handlers"),
		checks:       make(map[string]ReadinessCheck),
	}
}

// AddReadinessCheck registers a dependency probe for GET /ready.
func (h *Handlers) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// CartEnabled reports whether cart routes should be mounted.
func (h *Handlers) CartEnabled() bool {
	return h.cartService != nil
}
