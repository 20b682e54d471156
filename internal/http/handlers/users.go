package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/marubini/userdir/internal/cache"
	"github.com/marubini/userdir/internal/config"
	"github.com/marubini/userdir/internal/domain/user"
	"github.com/marubini/userdir/internal/security"
)

const listCacheKey = "all"

type UsersStore interface {
	List(ctx context.Context) ([]user.User, error)
	Update(ctx context.Context, id string, fields user.UpdateFields) (user.User, error)
	Delete(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) (int64, error)
}

type UsersHandler struct {
	store     UsersStore
	hasher    *security.Hasher
	listCache *cache.Cache[[]user.User]
}

func NewUsersHandler(store UsersStore, hasher *security.Hasher, listCache *cache.Cache[[]user.User]) *UsersHandler {
	return &UsersHandler{
		store:     store,
		hasher:    hasher,
		listCache: listCache,
	}
}

func (h *UsersHandler) ListUsers(ctx *gin.Context) {
	if h.listCache != nil {
		if users, ok := h.listCache.Get(listCacheKey); ok {
			ctx.JSON(http.StatusOK, users)
			return
		}
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	users, err := h.store.List(cctx)

	if err != nil {
		RespondStoreUnavailable(ctx)
		return
	}

	if h.listCache != nil {
		h.listCache.Set(listCacheKey, users)
	}

	ctx.JSON(http.StatusOK, users)
}

func (h *UsersHandler) UpdateUser(ctx *gin.Context) {
	id := ctx.Param("id")

	var req user.UpdateUserRequest

	if !BindJSON(ctx, &req) {
		return
	}

	fields := user.UpdateFields{
		Name:   req.Name,
		Email:  req.Email,
		Status: req.Status,
	}

	// any provided password is rehashed, never stored raw
	if req.Password != nil {
		hash, err := h.hasher.HashPassword(*req.Password)

		if err != nil {
			RespondInternal(ctx, "Could not update user")
			return
		}

		fields.PasswordHash = &hash
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	updated, err := h.store.Update(cctx, id, fields)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		if errors.Is(err, user.ErrEmailTaken) {
			RespondError(ctx, http.StatusBadRequest, "email_taken", "Email is already in use.", nil)
			return
		}

		RespondStoreUnavailable(ctx)
		return
	}

	h.clearListCache()

	ctx.JSON(http.StatusOK, updated)
}

// DeleteUser removes one record and answers with the remaining set. O(n)
// response, fine at directory scale.
func (h *UsersHandler) DeleteUser(ctx *gin.Context) {
	id := ctx.Param("id")

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	err := h.store.Delete(cctx, id)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondStoreUnavailable(ctx)
		return
	}

	h.clearListCache()

	h.respondRemaining(ctx, cctx)
}

func (h *UsersHandler) DeleteUsers(ctx *gin.Context) {
	var req user.DeleteManyRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	deleted, err := h.store.DeleteMany(cctx, req.IDs)

	if err != nil {
		RespondStoreUnavailable(ctx)
		return
	}

	// ids that matched nothing are skipped; zero matches is a miss
	if deleted == 0 {
		RespondNotFound(ctx, "Users not found")
		return
	}

	h.clearListCache()

	h.respondRemaining(ctx, cctx)
}

func (h *UsersHandler) respondRemaining(ctx *gin.Context, cctx context.Context) {
	remaining, err := h.store.List(cctx)

	if err != nil {
		RespondStoreUnavailable(ctx)
		return
	}

	if h.listCache != nil {
		h.listCache.Set(listCacheKey, remaining)
	}

	ctx.JSON(http.StatusOK, remaining)
}

func (h *UsersHandler) clearListCache() {
	if h.listCache != nil {
		h.listCache.Clear()
	}
}
