package api

import (
	"net/http"
	"time"

	"github.com/Domenick1991/flightbooking/config"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Identity headers are set by the upstream gateway after authentication.
const (
	userIDHeader         = "User-Id"
	userEmailHeader      = "User-Email"
	idempotencyKeyHeader = "X-Idempotency-Key"
)

func NewRouter(cfg config.HTTPConfig, log *logrus.Entry, bookings *BookingHandler, flights *FlightHandler) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Logger(log), gin.Recovery(), cors.New(corsConfig(cfg)))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "route not found"})
	})

	v1 := r.Group("/api/v1")
	bookings.Register(v1.Group("/bookings"))
	flights.Register(v1.Group("/flights"))
	return r
}

func corsConfig(cfg config.HTTPConfig) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", userIDHeader, userEmailHeader, idempotencyKeyHeader, requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowOrigins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cfg.AllowOrigins
	}
	return c
}
