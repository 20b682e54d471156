package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/marubini/userdir/internal/auth"
	"github.com/marubini/userdir/internal/cache"
	"github.com/marubini/userdir/internal/config"
	"github.com/marubini/userdir/internal/domain/user"
	"github.com/marubini/userdir/internal/http/handlers"
	"github.com/marubini/userdir/internal/http/middlewares"
	"github.com/marubini/userdir/internal/observability"
	"github.com/marubini/userdir/internal/ratelimit"
	"github.com/marubini/userdir/internal/repo/memory"
	"github.com/marubini/userdir/internal/repo/postgres"
	"github.com/marubini/userdir/internal/security"
)

// the full repo surface the handlers need, satisfied by both repo flavors
type usersRepo interface {
	handlers.UserReader
	handlers.UserCreator
	handlers.UsersStore
}

func NewRouter(log *slog.Logger, pool *pgxpool.Pool, cfg config.Config, prom *observability.Prom, throttle *ratelimit.LoginThrottle) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(log))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.RequireJSON())

	// cap request bodies at 1 MiB
	r.Use(func(ctx *gin.Context) {
		ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, 1<<20)
		ctx.Next()
	})

	r.Use(otelgin.Middleware("userdir"))

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(middlewares.CORS(cfg.CORSAllowedOrigins))
	}

	if prom != nil {
		r.Use(prom.GinHandleMiddleware())
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// health
	ping := func() error {
		if pool == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		return pool.Ping(ctx)
	}

	h := handlers.NewHealthHandler(ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	// wire up repositories; no pool means in-memory (dev and tests)

	var repo usersRepo

	if pool != nil {
		repo = postgres.NewUsersRepo(pool, prom)
	} else {
		repo = memory.NewUsersRepo()
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	jwtManager := auth.NewManager(cfg.JWTSecret, cfg.AccessTTL())

	// short TTL listing cache, cleared by every mutation
	userListCache := cache.New[[]user.User](5 * time.Second)

	authHandler := handlers.NewAuthHandler(repo, repo, hasher, jwtManager, throttle, prom, userListCache)
	usersHandler := handlers.NewUsersHandler(repo, hasher, userListCache)
	authMW := middlewares.NewAuthMiddleware(jwtManager)

	r.POST("/register", authHandler.Register)
	r.POST("/login", authHandler.Login)
	r.GET("/me", authMW.RequireAuth(), authHandler.Me)

	r.GET("/users", usersHandler.ListUsers)
	r.PUT("/users/update/:id", usersHandler.UpdateUser)
	r.DELETE("/user/delete/:id", usersHandler.DeleteUser)
	r.DELETE("/users/delete", usersHandler.DeleteUsers)

	return r
}
