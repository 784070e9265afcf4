package notification

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"SportsQuizPlatform/internal/auth"
)

// Handler exposes the notification REST surface.
type Handler struct {
	service *Service
}

// NewHandler creates a new notification handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func okMessage(c echo.Context, data interface{}, message string) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Data: data, Message: message})
}

func created(c echo.Context, data interface{}, message string) error {
	return c.JSON(http.StatusCreated, envelope{Success: true, Data: data, Message: message})
}

func fail(c echo.Context, err error, message string) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrPermission):
		status = http.StatusForbidden
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrStateConflict),
		errors.Is(err, ErrUnsupportedAudience):
		status = http.StatusBadRequest
	}
	return c.JSON(status, envelope{Success: false, Message: message, Error: err.Error()})
}

func actorFrom(c echo.Context) Actor {
	claims, ok := c.Get("user").(*auth.JWTClaims)
	if !ok || claims == nil {
		return Actor{}
	}
	return Actor{ID: claims.UserID, Username: claims.Username, Role: claims.Role}
}

func intQuery(c echo.Context, name string, def int) int {
	v, err := strconv.Atoi(c.QueryParam(name))
	if err != nil {
		return def
	}
	return v
}

func timeQuery(c echo.Context, name string) *time.Time {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

type pagination struct {
	Current    int   `json:"current"`
	PageSize   int   `json:"pageSize"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"totalPages"`
}

func paginate(page, pageSize int, total int64) pagination {
	pages := total / int64(pageSize)
	if total%int64(pageSize) != 0 {
		pages++
	}
	return pagination{Current: page, PageSize: pageSize, Total: total, TotalPages: pages}
}

// Create handles POST /notifications.
func (h *Handler) Create(c echo.Context) error {
	actor := actorFrom(c)
	if actor.Role == "student" {
		return fail(c, ErrPermission, "students cannot create notifications")
	}
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, ErrValidation, "invalid request body")
	}
	n, err := h.service.Create(c.Request().Context(), req, actor)
	if err != nil {
		return fail(c, err, "failed to create notification")
	}
	return created(c, n, "notification created")
}

// List handles GET /notifications.
func (h *Handler) List(c echo.Context) error {
	page, pageSize := pageBounds(intQuery(c, "page", 1), intQuery(c, "pageSize", 20))
	f := ListFilter{
		Page:      page,
		PageSize:  pageSize,
		Type:      c.QueryParam("type"),
		Priority:  c.QueryParam("priority"),
		Status:    c.QueryParam("status"),
		SenderID:  c.QueryParam("senderId"),
		StartDate: timeQuery(c, "startDate"),
		EndDate:   timeQuery(c, "endDate"),
	}
	notifications, total, err := h.service.List(c.Request().Context(), f, actorFrom(c))
	if err != nil {
		return fail(c, err, "failed to list notifications")
	}
	return ok(c, map[string]interface{}{
		"notifications": notifications,
		"pagination":    paginate(page, pageSize, total),
	})
}

// Get handles GET /notifications/:id.
func (h *Handler) Get(c echo.Context) error {
	n, err := h.service.Get(c.Request().Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		return fail(c, err, "failed to fetch notification")
	}
	return ok(c, n)
}

// Update handles PUT /notifications/:id.
func (h *Handler) Update(c echo.Context) error {
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, ErrValidation, "invalid request body")
	}
	n, err := h.service.Update(c.Request().Context(), c.Param("id"), req, actorFrom(c))
	if err != nil {
		return fail(c, err, "failed to update notification")
	}
	return okMessage(c, n, "notification updated")
}

// Delete handles DELETE /notifications/:id.
func (h *Handler) Delete(c echo.Context) error {
	if err := h.service.Delete(c.Request().Context(), c.Param("id"), actorFrom(c)); err != nil {
		return fail(c, err, "failed to delete notification")
	}
	return okMessage(c, nil, "notification deleted")
}

// Send handles POST /notifications/:id/send.
func (h *Handler) Send(c echo.Context) error {
	if err := h.service.Send(c.Request().Context(), c.Param("id"), actorFrom(c)); err != nil {
		return fail(c, err, "failed to send notification")
	}
	return okMessage(c, nil, "notification sent")
}

// UserNotifications handles GET /notifications/user/notifications.
func (h *Handler) UserNotifications(c echo.Context) error {
	actor := actorFrom(c)
	page, pageSize := pageBounds(intQuery(c, "page", 1), intQuery(c, "pageSize", 20))
	opts := UserListOptions{
		Page:       page,
		PageSize:   pageSize,
		Type:       c.QueryParam("type"),
		UnreadOnly: c.QueryParam("unreadOnly") == "true",
	}
	views, total, err := h.service.UserNotifications(c.Request().Context(), actor.ID, opts)
	if err != nil {
		return fail(c, err, "failed to fetch user notifications")
	}
	return ok(c, map[string]interface{}{
		"notifications": views,
		"pagination":    paginate(page, pageSize, total),
	})
}

// UnreadCount handles GET /notifications/user/unread-count.
func (h *Handler) UnreadCount(c echo.Context) error {
	count, err := h.service.UnreadCount(c.Request().Context(), actorFrom(c).ID)
	if err != nil {
		return fail(c, err, "failed to count unread notifications")
	}
	return ok(c, map[string]int64{"count": count})
}

// MarkAllRead handles POST /notifications/user/mark-all-read.
func (h *Handler) MarkAllRead(c echo.Context) error {
	updated, err := h.service.MarkAllRead(c.Request().Context(), actorFrom(c).ID)
	if err != nil {
		return fail(c, err, "failed to mark notifications read")
	}
	return okMessage(c, map[string]int64{"updated": updated}, "all notifications marked read")
}

// MarkRead handles POST /notifications/:id/read.
func (h *Handler) MarkRead(c echo.Context) error {
	if err := h.service.MarkRead(c.Request().Context(), c.Param("id"), actorFrom(c).ID); err != nil {
		return fail(c, err, "failed to mark notification read")
	}
	return okMessage(c, nil, "notification marked read")
}

// Acknowledge handles POST /notifications/:id/acknowledge.
func (h *Handler) Acknowledge(c echo.Context) error {
	if err := h.service.Acknowledge(c.Request().Context(), c.Param("id"), actorFrom(c).ID); err != nil {
		return fail(c, err, "failed to acknowledge notification")
	}
	return okMessage(c, nil, "notification acknowledged")
}

// ListTemplates handles GET /notifications/templates/list.
func (h *Handler) ListTemplates(c echo.Context) error {
	f := TemplateFilter{
		Type:     c.QueryParam("type"),
		Category: c.QueryParam("category"),
	}
	if raw := c.QueryParam("isActive"); raw != "" {
		active := raw == "true"
		f.IsActive = &active
	}
	templates, err := h.service.ListTemplates(c.Request().Context(), f)
	if err != nil {
		return fail(c, err, "failed to list templates")
	}
	return ok(c, templates)
}

// CreateTemplate handles POST /notifications/templates.
func (h *Handler) CreateTemplate(c echo.Context) error {
	actor := actorFrom(c)
	if !actor.IsAdmin() {
		return fail(c, ErrPermission, "only administrators can create templates")
	}
	var tpl NotificationTemplate
	if err := c.Bind(&tpl); err != nil {
		return fail(c, ErrValidation, "invalid request body")
	}
	saved, err := h.service.CreateTemplate(c.Request().Context(), &tpl, actor)
	if err != nil {
		return fail(c, err, "failed to create template")
	}
	return created(c, saved, "template created")
}

// Preferences handles GET /notifications/preferences.
func (h *Handler) Preferences(c echo.Context) error {
	sub, err := h.service.Preferences(c.Request().Context(), actorFrom(c).ID)
	if err != nil {
		return fail(c, err, "failed to fetch preferences")
	}
	return ok(c, sub)
}

type preferencesRequest struct {
	Preferences Preferences        `json:"preferences"`
	Filters     []SubscriptionRule `json:"filters"`
}

// UpdatePreferences handles PUT /notifications/preferences.
func (h *Handler) UpdatePreferences(c echo.Context) error {
	var req preferencesRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, ErrValidation, "invalid request body")
	}
	sub, err := h.service.UpdatePreferences(c.Request().Context(), actorFrom(c).ID, req.Preferences, req.Filters)
	if err != nil {
		return fail(c, err, "failed to update preferences")
	}
	return okMessage(c, sub, "preferences updated")
}

// Stats handles GET /notifications/stats/overview.
func (h *Handler) Stats(c echo.Context) error {
	actor := actorFrom(c)
	if !actor.IsAdmin() {
		return fail(c, ErrPermission, "only administrators can view notification statistics")
	}
	overview, err := h.service.StatsOverview(c.Request().Context())
	if err != nil {
		return fail(c, err, "failed to aggregate statistics")
	}
	return ok(c, overview)
}

type batchRequest struct {
	Action          string   `json:"action"`
	NotificationIDs []string `json:"notificationIds"`
}

// Batch handles POST /notifications/batch.
func (h *Handler) Batch(c echo.Context) error {
	actor := actorFrom(c)
	if !actor.IsAdmin() {
		return fail(c, ErrPermission, "only administrators can run batch operations")
	}
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, ErrValidation, "invalid request body")
	}
	affected, err := h.service.BatchOperation(c.Request().Context(), req.Action, req.NotificationIDs)
	if err != nil {
		return fail(c, err, "batch operation failed")
	}
	return okMessage(c, map[string]int64{"affected": affected}, "batch operation complete")
}
