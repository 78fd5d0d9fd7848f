package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/attendance/internal/api/handlers"
	"github.com/your-org/attendance/internal/api/ws"
	"github.com/your-org/attendance/internal/auth"
	"github.com/your-org/attendance/internal/ledger"
	"github.com/your-org/attendance/internal/service"
)

type RouterConfig struct {
	APIKey string
	// LegacyEndpoint exposes POST /exec for the browser kiosk page, without API key.
	LegacyEndpoint bool

	Identify *service.IdentificationService
	Enroll   *service.EnrollmentService
	Ledger   *ledger.Ledger
	Images   handlers.ImageSource // nil when snapshot storage is disabled
	Hub      *ws.Hub
	Checks   map[string]handlers.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(corsConfig()))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.LegacyEndpoint {
		legacyH := handlers.NewLegacyHandler(cfg.Identify, cfg.Enroll)
		r.POST("/exec", legacyH.Exec)
	}

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Identification
	identifyH := handlers.NewIdentifyHandler(cfg.Identify)
	v1.POST("/identify", identifyH.Identify)

	// Enrollment
	personH := handlers.NewPersonHandler(cfg.Enroll)
	v1.POST("/enroll", personH.Enroll)
	v1.GET("/persons", personH.List)
	v1.GET("/persons/:id", personH.Get)
	v1.PUT("/persons/:id/descriptors", personH.Reenroll)

	// Attendance ledger
	attendanceH := handlers.NewAttendanceHandler(cfg.Ledger, cfg.Enroll, cfg.Images)
	v1.GET("/attendance", attendanceH.List)
	v1.GET("/attendance/:id/image", attendanceH.Image)

	return r
}

// corsConfig allows kiosk pages served from any origin to send the API key header.
func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowAllOrigins = true
	cfg.AddAllowHeaders(auth.HeaderName)
	return cfg
}
