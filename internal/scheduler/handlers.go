package scheduler

import (
	"github.com/gin-gonic/gin"

	"github.com/stonefield/broker-api/internal/clock"
	"github.com/stonefield/broker-api/pkg/response"
)

// GinHandlers exposes the operational surface: advancing the simulated
// trading calendar and forcing an immediate scheduler pass. Both sit
// behind internal auth; the simulation uses them to walk an order
// through T+2 without waiting out wall-clock days.
type GinHandlers struct {
	processor *Processor
	calendar  *clock.Calendar
}

func NewGinHandlers(processor *Processor, calendar *clock.Calendar) *GinHandlers {
	return &GinHandlers{
		processor: processor,
		calendar:  calendar,
	}
}

// AdvanceCalendarHandler handles POST requests to move the trading
// calendar forward by a number of days.
func (h *GinHandlers) AdvanceCalendarHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Days int `json:"days" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		h.calendar.AdvanceDays(request.Days)
		response.Success(c, gin.H{
			"advanced_days": request.Days,
			"current_time":  h.calendar.Now(),
		})
	}
}

// RunPassHandler handles POST requests to run one scheduler pass
// immediately instead of waiting for the next tick.
func (h *GinHandlers) RunPassHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.processor.RunPass()
		response.Success(c, gin.H{"message": "scheduler pass completed"})
	}
}
