package http

import (
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/geocoder89/workcore/internal/auth"
	"github.com/geocoder89/workcore/internal/batch"
	"github.com/geocoder89/workcore/internal/config"
	"github.com/geocoder89/workcore/internal/http/handlers"
	"github.com/geocoder89/workcore/internal/http/middlewares"
	"github.com/geocoder89/workcore/internal/publish/queue"
)

// Deps carries the already-assembled core collaborators the router exposes
// over HTTP. It depends on interfaces (handlers.JobsService) rather than
// concrete jobqueue/batch/queue types where it can, but batch.Manager and
// queue.Manager have no narrower seam worth extracting for a single caller.
type Deps struct {
	Jobs         handlers.JobsService
	Batches      *batch.Manager
	PublishQueue *queue.Manager
	JWT          *auth.Manager
}

// NewRouter builds the admin HTTP surface: health checks plus the
// operator-facing job/batch/publish-queue inspection and retry endpoints.
// Entity CRUD, registration and identity issuance live outside this core —
// they are out-of-scope collaborators per the owning specification, not
// routes this router serves.
func NewRouter(deps Deps, cfg config.Config) *gin.Engine {
	if os.Getenv("APP_ENV") != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("workcore"))
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.CORSMiddleware([]string{"http://localhost:3000"}))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.MaxBodyBytes(1 << 20))
	r.Use(middlewares.RequireJSON())

	health := handlers.NewHealthHandler()
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)
	r.GET("/swagger", handlers.SwaggerUI)

	authMiddleware := middlewares.NewAuthMiddleware(deps.JWT)
	adminLimiter := middlewares.NewRateLimiter(60, time.Minute)

	admin := r.Group("/admin")
	admin.Use(authMiddleware.RequireAuth())
	admin.Use(authMiddleware.RequireRole("admin"))
	admin.Use(adminLimiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP))

	jobsHandler := handlers.NewAdminJobsHandler(deps.Jobs)
	{
		admin.GET("/jobs", jobsHandler.List)
		admin.GET("/jobs/:id", jobsHandler.GetByID)
		admin.POST("/jobs/:id/retry", jobsHandler.Retry)
		admin.POST("/jobs/reprocess-dead", jobsHandler.ReprocessDead)
	}

	batchHandler := handlers.NewBatchHandler(deps.Batches)
	admin.GET("/batches/:id", batchHandler.GetByID)

	queueHandler := handlers.NewPublishQueueHandler(deps.PublishQueue)
	admin.GET("/publish/queue", queueHandler.List)

	return r
}
