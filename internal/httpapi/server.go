package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/septivank/pawtelligent-feeder/internal/mq"
	"github.com/septivank/pawtelligent-feeder/internal/provisioning"
	"github.com/septivank/pawtelligent-feeder/internal/service"
	"github.com/septivank/pawtelligent-feeder/internal/store"
	"github.com/septivank/pawtelligent-feeder/internal/syncbridge"
	"github.com/septivank/pawtelligent-feeder/internal/telemetry"
	"github.com/septivank/pawtelligent-feeder/internal/validator"
	"go.uber.org/zap"
)

// RestfulServer exposes the feeder actions and state over HTTP
type RestfulServer struct {
	Server    *gin.Engine
	Feeder    *service.FeederService
	Manager   *mq.Manager
	Bridge    *syncbridge.Bridge
	Telemetry *telemetry.Telemetry
	Devices   *provisioning.Registry
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
}

// NewEngine creates a gin engine with recovery and zap request logging
func NewEngine(logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))
	return engine
}

// Setup registers every route
func (rs *RestfulServer) Setup() {
	rs.Server.GET("/healthz", rs.HealthCheck)
	rs.Server.GET("/metrics", gin.WrapH(promhttp.HandlerFor(rs.Gatherer, promhttp.HandlerOpts{})))
	rs.Server.GET("/status", rs.GetStatus)
	rs.Server.GET("/view", rs.GetView)
	rs.Server.POST("/feed", rs.PostFeed)

	device := rs.Server.Group("/device")
	{
		device.POST("/connect", rs.PostConnect)
		device.POST("/disconnect", rs.PostDisconnect)
		device.POST("/provision", rs.PostProvision)
	}

	rs.Server.POST("/pets", rs.PostPet)
	pets := rs.Server.Group("/pets/:pet_id")
	{
		pets.PATCH("/weight", rs.PatchWeight)
		pets.PUT("/photo", rs.PutPhoto)
		pets.POST("/meals", rs.PostMeal)
		pets.POST("/meals/:meal_id/toggle", rs.PostToggleMeal)
		pets.DELETE("/meals/:meal_id", rs.DeleteMeal)
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
			return
		}
		logger.Debug("request served", fields...)
	}
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, validator.ErrPhotoTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, validator.ErrInvalid), errors.Is(err, provisioning.ErrInvalidCode):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, mq.ErrAlreadyConnected):
		return http.StatusConflict
	case errors.Is(err, mq.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, mq.ErrNotConnected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// messageFor is the text shown to the user for err
func messageFor(err error) string {
	switch {
	case errors.Is(err, validator.ErrPhotoTooLarge):
		return "Image is too large. Please choose a smaller image or try again with lower quality."
	case errors.Is(err, mq.ErrNotConnected):
		return "Please wait for device connection"
	default:
		return err.Error()
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": messageFor(err)})
}
