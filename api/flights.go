package api

import (
	"net/http"

	"github.com/Domenick1991/flightbooking/internal/service/flights"
	"github.com/gin-gonic/gin"
)

type FlightHandler struct {
	service flights.FlightUseCase
}

func NewFlightHandler(service flights.FlightUseCase) *FlightHandler {
	return &FlightHandler{service: service}
}

func (h *FlightHandler) Register(router *gin.RouterGroup) {
	router.GET("", h.search)
}

// search forwards the query string to the inventory service untouched.
func (h *FlightHandler) search(c *gin.Context) {
	result, err := h.service.Search(c.Request.Context(), c.Request.URL.Query())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dataResponse{Data: result})
}
