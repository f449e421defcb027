package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/edirooss/playout-server/internal/domain/channel"
	"github.com/edirooss/playout-server/internal/http/dto"
	"github.com/edirooss/playout-server/internal/http/middleware"
	"github.com/edirooss/playout-server/internal/service"
	"github.com/edirooss/playout-server/pkg/jsonx"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SettingsReader is the read side of the settings store.
type SettingsReader interface {
	GetOne(id int64) (channel.Settings, error)
	GetList() []channel.Settings
	Delete(ctx context.Context, id int64) (channel.Settings, error)
}

// SettingsHandler provides RESTful HTTP handlers for channel settings.
//
// Supported operations:
//   - GET    /player/settings       → List all channel settings
//   - POST   /player/settings       → Provision a new channel
//   - GET    /player/settings/{id}  → Retrieve channel settings by ID
//   - PUT    /player/settings/{id}  → Reprovision with a full payload
//   - PATCH  /player/settings/{id}  → Reprovision with the supplied fields only
//   - DELETE /player/settings/{id}  → Remove the record (files stay on disk)
//   - GET    /player/settings/summary → Records with unit/config presence
//
// Notes:
//   - Standard REST semantics (RFC 9110, RFC 5789).
type SettingsHandler struct {
	log     *zap.Logger
	svc     *service.Provisioner
	store   SettingsReader
	summary *service.SummaryService
}

// NewSettingsHandler constructs a SettingsHandler instance.
func NewSettingsHandler(log *zap.Logger, svc *service.Provisioner, store SettingsReader, summary *service.SummaryService) *SettingsHandler {
	return &SettingsHandler{
		log:     log.Named("settings"),
		svc:     svc,
		store:   store,
		summary: summary,
	}
}

// GetSettingsList handles GET /player/settings.
//
// Status Codes:
//   - 200 OK → JSON array of settings, `X-Total-Count` header
func (h *SettingsHandler) GetSettingsList(c *gin.Context) {
	list := h.store.GetList()
	c.Header("X-Total-Count", strconv.Itoa(len(list)))
	c.JSON(http.StatusOK, list)
}

// CreateSettings handles POST /player/settings.
//
// Behavior:
//   - Ensures the supervisor unit and the channel config exist, then stores the record.
//   - Responds with resource location in `Location` header.
//
// Status Codes:
//   - 201 Created → JSON of stored settings
//   - 400 Bad Request → Invalid JSON, schema or field values
//   - 409 Conflict → Path occupied by a non-directory
//   - 424 Failed Dependency → No template unit for the service
//   - 500 Internal Server Error
func (h *SettingsHandler) CreateSettings(c *gin.Context) {
	var req dto.SettingsCreate
	if err := jsonx.ParseStrictJSONBody(c.Request, &req); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	patch, err := req.ToPatch()
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	rec, err := h.svc.Create(c.Request.Context(), patch)
	h.summary.Invalidate() // files may have changed even on failure
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Header("Location", fmt.Sprintf("/api/player/settings/%d", rec.ID))
	c.JSON(http.StatusCreated, rec)
}

// GetSettings handles GET /player/settings/{id}.
//
// Status Codes:
//   - 200 OK → JSON of settings
//   - 400 Bad Request → Invalid ID format
//   - 404 Not Found
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	id := middleware.GetID(c) // validated by middleware.RequireValidID

	rec, err := h.store.GetOne(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ModifySettings handles PATCH /player/settings/{id}.
//
// Behavior:
//   - Only provided fields are modified.
//   - A missing unit or config is recreated (config copied from the baseline).
//
// Status Codes:
//   - 200 OK → JSON of stored settings
//   - 400 Bad Request → Invalid ID or payload
//   - 404 Not Found
//   - 409 Conflict → Engine service owned by another channel
//   - 424 Failed Dependency → No template unit for the service
//   - 500 Internal Server Error
func (h *SettingsHandler) ModifySettings(c *gin.Context) {
	id := middleware.GetID(c) // validated by middleware.RequireValidID

	var req dto.SettingsModify
	if err := jsonx.ParseStrictJSONBody(c.Request, &req); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	patch, err := req.ToPatch()
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	h.update(c, id, patch)
}

// ReplaceSettings handles PUT /player/settings/{id}.
//
// Status Codes: as ModifySettings.
func (h *SettingsHandler) ReplaceSettings(c *gin.Context) {
	id := middleware.GetID(c) // validated by middleware.RequireValidID

	var req dto.SettingsReplace
	if err := jsonx.ParseStrictJSONBody(c.Request, &req); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	patch, err := req.ToPatch()
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	h.update(c, id, patch)
}

// DeleteSettings handles DELETE /player/settings/{id}.
//
// Behavior:
//   - Removes the record only; unit and config files are left for the operator.
//
// Status Codes:
//   - 200 OK → JSON { "id": deletedID }
//   - 400 Bad Request → Invalid ID
//   - 404 Not Found
//   - 500 Internal Server Error
func (h *SettingsHandler) DeleteSettings(c *gin.Context) {
	id := middleware.GetID(c) // validated by middleware.RequireValidID

	rec, err := h.store.Delete(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.summary.Invalidate()

	h.log.Info("settings deleted", zap.Int64("id", id), zap.String("service", rec.EngineService))
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// Summary handles GET /player/settings/summary.
//
// Behavior:
//   - Serves a short-lived snapshot; `X-Cache` is HIT or MISS.
//   - `X-Drifted-Count` counts channels missing a unit or config.
//
// Status Codes:
//   - 200 OK → JSON array of summaries, `X-Total-Count` header
//   - 500 Internal Server Error
func (h *SettingsHandler) Summary(c *gin.Context) {
	res, err := h.summary.Get(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	drifted := 0
	for _, s := range res.Data {
		if s.Drifted() {
			drifted++
		}
	}

	cache := "MISS"
	if res.CacheHit {
		cache = "HIT"
	}
	c.Header("X-Cache", cache)
	c.Header("X-Total-Count", strconv.Itoa(len(res.Data)))
	c.Header("X-Drifted-Count", strconv.Itoa(drifted))
	c.Header("Last-Modified", res.GeneratedAt.UTC().Format(http.TimeFormat))
	c.JSON(http.StatusOK, res.Data)
}

func (h *SettingsHandler) update(c *gin.Context, id int64, patch channel.SettingsPatch) {
	rec, err := h.svc.Update(c.Request.Context(), id, patch)
	h.summary.Invalidate()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ----- Helpers -----

func (h *SettingsHandler) fail(c *gin.Context, err error) {
	c.Error(err)
	c.JSON(StatusOf(err), gin.H{"message": err.Error()})
}

// StatusOf maps provisioning errors to HTTP status codes.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, channel.ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, channel.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, channel.ErrServiceInUse), errors.Is(err, channel.ErrPathConflict):
		return http.StatusConflict
	case errors.Is(err, channel.ErrTemplateMissing):
		return http.StatusFailedDependency
	case errors.Is(err, service.ErrLocked),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
