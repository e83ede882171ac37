package session

import (
	"net/http"
	"strconv"

	"collaborative-draft-editor/internal/domain"
	"collaborative-draft-editor/internal/errors"
	"collaborative-draft-editor/internal/middleware"
	"collaborative-draft-editor/internal/utils"
	"collaborative-draft-editor/internal/version"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the session routes on rg
func (h *Handler) Register(rg gin.IRoutes) {
	rg.POST("/sessions", h.Create)
	rg.GET("/sessions/:id", h.Show)
	rg.POST("/sessions/:id/edits", h.ApplyEdit)
	rg.GET("/sessions/:id/versions", h.ShowVersions)
	rg.GET("/sessions/:id/versions/:versionId", h.ShowVersion)
	rg.POST("/sessions/:id/versions/:versionId/revert", h.Revert)
	rg.POST("/sessions/:id/collaborators", h.Invite)
	rg.PUT("/sessions/:id/collaborators/:userId/permissions", h.UpdatePermissions)
	rg.DELETE("/sessions/:id/collaborators/:userId", h.RemoveCollaborator)
	rg.POST("/sessions/:id/publish", h.Publish)
	rg.GET("/sessions/:id/health", h.Health)
	rg.GET("/sessions/:id/conflicts", h.ShowConflicts)
	rg.POST("/sessions/:id/reactivate", h.Reactivate)
	rg.POST("/sessions/:id/archive", h.Archive)
}

type CreateRequest struct {
	CollaboratorIDs []string `json:"collaborator_ids" binding:"omitempty,dive,required"`
	InitialContent  string   `json:"initial_content"`
}

func (h *Handler) Create(c *gin.Context) {
	var form CreateRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	session, err := h.service.CreateSession(c.Request.Context(), middleware.CallerID(c), form.CollaboratorIDs, form.InitialContent)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

func (h *Handler) Show(c *gin.Context) {
	session, err := h.service.GetSession(c.Request.Context(), c.Param("id"), middleware.CallerID(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, session)
}

type EditRequest struct {
	ID            string          `json:"id"`
	Type          domain.EditType `json:"type" binding:"required,oneof=insert delete replace media_add media_remove"`
	Position      int             `json:"position" binding:"min=0"`
	OldText       string          `json:"old_text"`
	NewText       string          `json:"new_text"`
	MediaRef      string          `json:"media_ref"`
	BaseVersionID *int64          `json:"base_version_id" binding:"required,min=0"`
}

func (h *Handler) ApplyEdit(c *gin.Context) {
	var form EditRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	edit := domain.ContentEdit{
		ID:            form.ID,
		Type:          form.Type,
		Position:      form.Position,
		OldText:       form.OldText,
		NewText:       form.NewText,
		MediaRef:      form.MediaRef,
		BaseVersionID: *form.BaseVersionID,
	}
	v, err := h.service.ApplyEdit(c.Request.Context(), c.Param("id"), middleware.CallerID(c), edit)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, v)
}

func (h *Handler) ShowVersions(c *gin.Context) {
	versions, err := h.service.GetVersionHistory(c.Request.Context(), c.Param("id"), middleware.CallerID(c))
	if err != nil {
		c.Error(err)
		return
	}

	page, pageSize := utils.GetPaginationParams(c)
	c.JSON(http.StatusOK, version.Paginate(versions, page, pageSize))
}

func versionParam(c *gin.Context) (int64, bool) {
	versionID, err := strconv.ParseInt(c.Param("versionId"), 10, 64)
	if err != nil {
		c.Error(errors.InvalidArgument("version id must be a number", err))
		return 0, false
	}
	return versionID, true
}

func (h *Handler) ShowVersion(c *gin.Context) {
	versionID, ok := versionParam(c)
	if !ok {
		return
	}

	v, err := h.service.GetVersion(c.Request.Context(), c.Param("id"), middleware.CallerID(c), versionID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, v)
}

func (h *Handler) Revert(c *gin.Context) {
	versionID, ok := versionParam(c)
	if !ok {
		return
	}

	v, err := h.service.RevertToVersion(c.Request.Context(), c.Param("id"), middleware.CallerID(c), versionID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, v)
}

type InviteRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required,oneof=editor reviewer viewer"`
}

func (h *Handler) Invite(c *gin.Context) {
	var form InviteRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}
	role, err := domain.ParseRole(form.Role)
	if err != nil {
		c.Error(errors.InvalidArgument(err.Error(), err))
		return
	}

	collaborator, err := h.service.InviteCollaborator(c.Request.Context(), c.Param("id"), middleware.CallerID(c), form.UserID, role)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, collaborator)
}

type PermissionsRequest struct {
	Permissions []string `json:"permissions" binding:"required"`
}

func (h *Handler) UpdatePermissions(c *gin.Context) {
	var form PermissionsRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}
	perms, err := domain.ParsePermissionSet(form.Permissions)
	if err != nil {
		c.Error(errors.InvalidArgument(err.Error(), err))
		return
	}

	collaborator, err := h.service.UpdatePermissions(c.Request.Context(), c.Param("id"), middleware.CallerID(c), c.Param("userId"), perms)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, collaborator)
}

func (h *Handler) RemoveCollaborator(c *gin.Context) {
	if err := h.service.RemoveCollaborator(c.Request.Context(), c.Param("id"), middleware.CallerID(c), c.Param("userId")); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) Publish(c *gin.Context) {
	postID, err := h.service.Publish(c.Request.Context(), c.Param("id"), middleware.CallerID(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"post_id": postID})
}

func (h *Handler) Health(c *gin.Context) {
	health, err := h.service.GetSessionHealth(c.Request.Context(), c.Param("id"), middleware.CallerID(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) ShowConflicts(c *gin.Context) {
	records, err := h.service.ListConflicts(c.Request.Context(), c.Param("id"), middleware.CallerID(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}

func (h *Handler) Reactivate(c *gin.Context) {
	session, err := h.service.Reactivate(c.Request.Context(), c.Param("id"), middleware.CallerID(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *Handler) Archive(c *gin.Context) {
	session, err := h.service.Archive(c.Request.Context(), c.Param("id"), middleware.CallerID(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// Recover handles the internal recovery trigger
func (h *Handler) Recover(c *gin.Context) {
	health, err := h.service.Recover(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, health)
}
