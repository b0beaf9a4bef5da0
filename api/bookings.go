package api

import (
	"net/http"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/Domenick1991/flightbooking/internal/service/booking"
	"github.com/gin-gonic/gin"
)

type BookingHandler struct {
	service booking.BookingUseCase
}

type createBookingRequest struct {
	FlightID  int64 `json:"flightId" binding:"required,gt=0"`
	NoOfSeats int   `json:"noOfSeats" binding:"required,gt=0"`
}

type paymentRequest struct {
	BookingID    string `json:"bookingId" binding:"required"`
	Name         string `json:"name" binding:"required"`
	CardNumber   string `json:"card_Number" binding:"required"`
	CardExpMonth string `json:"card_ExpMonth" binding:"required"`
	CardExpYear  string `json:"card_ExpYear" binding:"required"`
	CardCVC      string `json:"card_CVC" binding:"required"`
}

type cancelRequest struct {
	BookingID string `json:"bookingId" binding:"required"`
	Name      string `json:"name" binding:"required"`
	PhoneNo   string `json:"phoneNo" binding:"required"`
	AccountNo string `json:"accountNo" binding:"required"`
	IFSC      string `json:"ifsc" binding:"required"`
}

type dataResponse struct {
	Data any `json:"data"`
}

func NewBookingHandler(service booking.BookingUseCase) *BookingHandler {
	return &BookingHandler{service: service}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.create)
	router.GET("", h.list)
	router.GET("/:id", h.get)
	router.POST("/payment", h.pay)
	router.POST("/cancel", h.cancel)
}

func (h *BookingHandler) create(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	created, err := h.service.CreateBooking(c.Request.Context(), booking.CreateBookingInput{
		FlightID:  req.FlightID,
		UserID:    c.GetHeader(userIDHeader),
		NoOfSeats: req.NoOfSeats,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dataResponse{Data: created})
}

func (h *BookingHandler) list(c *gin.Context) {
	bookings, err := h.service.ListUserBookings(c.Request.Context(), c.GetHeader(userIDHeader))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dataResponse{Data: bookings})
}

func (h *BookingHandler) get(c *gin.Context) {
	b, err := h.service.GetBooking(c.Request.Context(), c.Param("id"), c.GetHeader(userIDHeader))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dataResponse{Data: b})
}

func (h *BookingHandler) pay(c *gin.Context) {
	// checked before the body so a keyless retry never reaches the gateway
	key := c.GetHeader(idempotencyKeyHeader)
	if key == "" {
		writeError(c, domain.ValidationError{Field: idempotencyKeyHeader, Msg: "header is required"})
		return
	}

	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	outcome, err := h.service.CapturePayment(c.Request.Context(), booking.CapturePaymentInput{
		BookingID:      req.BookingID,
		UserID:         c.GetHeader(userIDHeader),
		IdempotencyKey: key,
		Card: domain.CardDetails{
			Number:   req.CardNumber,
			ExpMonth: req.CardExpMonth,
			ExpYear:  req.CardExpYear,
			CVC:      req.CardCVC,
		},
		Payer: domain.Payer{Name: req.Name, Email: c.GetHeader(userEmailHeader)},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dataResponse{Data: outcome})
}

func (h *BookingHandler) cancel(c *gin.Context) {
	// the service skips the ownership check for operator calls without a user
	userID := c.GetHeader(userIDHeader)
	if userID == "" {
		writeError(c, domain.ValidationError{Field: userIDHeader, Msg: "header is required"})
		return
	}

	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	cancelled, err := h.service.CancelBooking(c.Request.Context(), booking.CancelBookingInput{
		BookingID: req.BookingID,
		Details: domain.CancellationDetails{
			UserID:    userID,
			Name:      req.Name,
			Phone:     req.PhoneNo,
			Email:     c.GetHeader(userEmailHeader),
			AccountNo: req.AccountNo,
			IFSC:      req.IFSC,
		},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dataResponse{Data: cancelled})
}
