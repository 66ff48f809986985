package orders

import (
	"github.com/gin-gonic/gin"

	"github.com/stonefield/broker-api/internal/auth"
	"github.com/stonefield/broker-api/pkg/response"
)

// GinHandlers contains HTTP handlers for the order-entry surface.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

func clientFromClaims(c *gin.Context) (string, bool) {
	claims, exists := c.Get("claims")
	if !exists {
		response.Unauthorized(c, "Missing authentication claims")
		return "", false
	}
	clientID := auth.GetClientID(claims)
	if clientID == "" {
		response.Unauthorized(c, "Invalid client ID in token")
		return "", false
	}
	return clientID, true
}

// PreviewOrderHandler handles POST requests to price an order request.
// The response carries the one-time token submit requires.
func (h *GinHandlers) PreviewOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := clientFromClaims(c)
		if !ok {
			return
		}

		var req PreviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		p, err := h.service.PreviewOrder(clientID, &req)
		response.Handle(c, p, err)
	}
}

// SubmitOrderHandler handles POST requests to confirm a previewed order.
func (h *GinHandlers) SubmitOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := clientFromClaims(c)
		if !ok {
			return
		}

		var req SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.SubmitOrder(clientID, req.PreviewToken)
		response.Handle(c, order, err)
	}
}

// CancelOrderHandler handles POST requests to cancel a pending order.
// URL parameter: order_id
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := clientFromClaims(c)
		if !ok {
			return
		}

		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		order, err := h.service.CancelOrder(orderID, clientID)
		response.Handle(c, order, err)
	}
}

// GetOrderHandler handles GET requests for a single order.
// URL parameter: order_id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := clientFromClaims(c)
		if !ok {
			return
		}

		order, err := h.service.GetOrder(c.Param("order_id"), clientID)
		response.Handle(c, order, err)
	}
}

// ListOrdersHandler handles GET requests for the client's orders,
// optionally filtered by ?status=.
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := clientFromClaims(c)
		if !ok {
			return
		}

		list, err := h.service.GetOrdersByStatus(clientID, c.Query("status"))
		response.Handle(c, list, err)
	}
}

// GetPortfolioHandler handles GET requests for the client's positions.
func (h *GinHandlers) GetPortfolioHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := clientFromClaims(c)
		if !ok {
			return
		}

		items, err := h.service.GetPortfolio(clientID)
		response.Handle(c, items, err)
	}
}

// GetAccountHandler handles GET requests for account balances.
// URL parameter: account_id
func (h *GinHandlers) GetAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := clientFromClaims(c)
		if !ok {
			return
		}

		acct, err := h.service.GetAccount(c.Param("account_id"), clientID)
		response.Handle(c, acct, err)
	}
}
