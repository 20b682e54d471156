package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/marubini/userdir/internal/auth"
	"github.com/marubini/userdir/internal/cache"
	"github.com/marubini/userdir/internal/config"
	"github.com/marubini/userdir/internal/domain/user"
	"github.com/marubini/userdir/internal/http/middlewares"
	"github.com/marubini/userdir/internal/observability"
	"github.com/marubini/userdir/internal/ratelimit"
	"github.com/marubini/userdir/internal/security"
)

type UserReader interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
}

type UserCreator interface {
	Create(ctx context.Context, name, email, passwordHash string) (user.User, error)
}

type AuthHandler struct {
	users     UserReader
	creator   UserCreator
	hasher    *security.Hasher
	jwt       *auth.Manager
	throttle  *ratelimit.LoginThrottle // nil when no redis is configured
	prom      *observability.Prom
	listCache *cache.Cache[[]user.User]
}

func NewAuthHandler(users UserReader, creator UserCreator, hasher *security.Hasher, jwtManager *auth.Manager, throttle *ratelimit.LoginThrottle, prom *observability.Prom, listCache *cache.Cache[[]user.User]) *AuthHandler {
	return &AuthHandler{
		users:     users,
		creator:   creator,
		hasher:    hasher,
		jwt:       jwtManager,
		throttle:  throttle,
		prom:      prom,
		listCache: listCache,
	}
}

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req user.RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	// advisory pre-check; the unique index on email is the real guard
	_, err := h.users.GetByEmail(cctx, req.Email)

	if err == nil {
		RespondError(ctx, http.StatusBadRequest, "email_taken", "Email is already in use.", nil)
		return
	}

	if !errors.Is(err, user.ErrNotFound) {
		RespondStoreUnavailable(ctx)
		return
	}

	hash, err := h.hasher.HashPassword(req.Password)

	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	u, err := h.creator.Create(cctx, req.Name, req.Email, hash)

	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			// lost the race to a concurrent registration
			RespondError(ctx, http.StatusBadRequest, "email_taken", "Email is already in use.", nil)
			return
		}

		RespondStoreUnavailable(ctx)
		return
	}

	if h.listCache != nil {
		h.listCache.Clear()
	}

	ctx.JSON(http.StatusOK, u)
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req user.LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	// short timeout for DB lookup
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	if h.throttle != nil && h.throttle.Blocked(cctx, req.Email) {
		h.countLogin("throttled")
		RespondError(ctx, http.StatusTooManyRequests, "rate_limited", "Too many failed attempts. Please try again later.", nil)
		return
	}

	foundUser, err := h.users.GetByEmail(cctx, req.Email)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			h.countLogin("not_found")
			RespondError(ctx, http.StatusBadRequest, "not_found", "No account exists for that email.", nil)
			return
		}

		RespondStoreUnavailable(ctx)
		return
	}

	err = security.CheckPassword(foundUser.PasswordHash, req.Password)

	if err != nil {
		h.countLogin("bad_password")

		if h.throttle != nil {
			_ = h.throttle.RecordFailure(cctx, req.Email)
		}

		RespondError(ctx, http.StatusBadRequest, "invalid_credentials", "Incorrect password.", nil)
		return
	}

	token, err := h.jwt.GenerateAccessToken(foundUser.ID, foundUser.Email)

	if err != nil {
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	if h.throttle != nil {
		_ = h.throttle.Reset(cctx, req.Email)
	}

	h.countLogin("ok")

	ctx.JSON(http.StatusOK, gin.H{
		"token": token,
	})
}

// Me returns the public record of the bearer-token caller.
func (h *AuthHandler) Me(ctx *gin.Context) {
	id, ok := middlewares.UserIDFromContext(ctx)

	if !ok || id == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	u, err := h.users.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondStoreUnavailable(ctx)
		return
	}

	ctx.JSON(http.StatusOK, u)
}

func (h *AuthHandler) countLogin(outcome string) {
	if h.prom != nil {
		h.prom.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}
