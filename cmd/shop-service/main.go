package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/enterpriseshop/stockops_backend/config"
	"github.com/enterpriseshop/stockops_backend/models"
	"github.com/enterpriseshop/stockops_backend/orders"
	"github.com/enterpriseshop/stockops_backend/stockclient"
	"github.com/enterpriseshop/stockops_backend/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// service is set once the database connection is up; the readiness gate
// returns 503 until then.
var service *orders.Service

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, err error) {
	var apiErr *stockclient.APIError
	switch {
	case errors.Is(err, orders.ErrOrderNotFound), errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: err.Error()})
	case errors.Is(err, orders.ErrNoItems), errors.Is(err, orders.ErrDuplicateSku), errors.Is(err, orders.ErrShopInactive):
		c.JSON(http.StatusBadRequest, errorBody{Code: "VALIDATION", Message: err.Error()})
	case errors.Is(err, orders.ErrOrderCancelled):
		c.JSON(http.StatusConflict, errorBody{Code: "INVALID_STATE", Message: err.Error()})
	case errors.Is(err, orders.ErrNothingReserved):
		c.JSON(http.StatusUnprocessableEntity, errorBody{Code: "NOTHING_RESERVED", Message: err.Error()})
	case errors.As(err, &apiErr):
		// Surface the stock service's refusal with its own status.
		c.JSON(apiErr.StatusCode, errorBody{Code: apiErr.Code, Message: apiErr.Message})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorBody{Code: "INTERNAL", Message: "internal server error"})
	}
}

func placeOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input orders.PlaceOrderInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, errorBody{Code: "VALIDATION", Message: err.Error()})
			return
		}
		order, err := service.PlaceOrder(c.Request.Context(), &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, order)
	}
}

func getOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := service.GetOrder(c.Request.Context(), c.Param("orderNumber"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func listOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		out, err := service.ListOrders(c.Request.Context(), c.Query("shop_code"), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func confirmOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := service.ConfirmOrder(c.Request.Context(), c.Param("orderNumber"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func cancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Reason string `json:"reason"`
		}
		_ = c.ShouldBindJSON(&input)
		order, err := service.CancelOrder(c.Request.Context(), c.Param("orderNumber"), input.Reason)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func createShopHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewShop
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, errorBody{Code: "VALIDATION", Message: err.Error()})
			return
		}
		shop, err := models.CreateShop(c.Request.Context(), &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, shop)
	}
}

func getShopHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		shop, err := models.GetShopByCode(c.Request.Context(), c.Param("code"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, shop)
	}
}

// availabilityHandler proxies the check to the stock service so shop
// frontends only need one base URL.
func availabilityHandler(stock *stockclient.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		quantity, err := strconv.Atoi(c.DefaultQuery("quantity", "1"))
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody{Code: "VALIDATION", Message: "quantity must be an integer"})
			return
		}
		avail, err := stock.CheckAvailability(c.Request.Context(), c.Param("sku"), quantity)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, avail)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: "route not found"})
}

func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	stock := stockclient.New()

	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if service == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api/v1")
	{
		api.POST("/orders", placeOrderHandler())
		api.GET("/orders", listOrdersHandler())
		api.GET("/orders/:orderNumber", getOrderHandler())
		api.POST("/orders/:orderNumber/confirm", confirmOrderHandler())
		api.POST("/orders/:orderNumber/cancel", cancelOrderHandler())

		api.POST("/shops", createShopHandler())
		api.GET("/shops/:code", getShopHandler())

		api.GET("/stock/:sku/availability", availabilityHandler(stock))
	}
	r.NoRoute(customNotFoundHandler)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect the database after the port is open.
	config.ConnectDatabaseWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	service = orders.NewService(stock)

	logger.WithFields(logrus.Fields{
		"port":          port,
		"stock_service": stock.BaseURL,
	}).Info("shop service ready")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}
