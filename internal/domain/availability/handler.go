package availability

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medsched/medsched/pkg/pagination"
)

const dateLayout = "2006-01-02"

// Handler exposes availability authoring and slot booking over HTTP.
type Handler struct {
	svc         *Service
	lifecycle   *Lifecycle
	horizonDays int
	logger      zerolog.Logger
}

func NewHandler(svc *Service, lifecycle *Lifecycle, horizonDays int, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:         svc,
		lifecycle:   lifecycle,
		horizonDays: horizonDays,
		logger:      logger.With().Str("component", "availability-http").Logger(),
	}
}

// RegisterRoutes mounts the availability API on the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/doctors/:doctorId/template", h.GetTemplate)
	g.POST("/doctors/:doctorId/template/preview", h.PreviewTemplate)
	g.POST("/doctors/:doctorId/template/publish", h.PublishTemplate)

	g.GET("/doctors/:doctorId/exceptions", h.ListExceptions)
	g.POST("/doctors/:doctorId/exceptions", h.CreateException)
	g.DELETE("/doctors/:doctorId/exceptions/:id", h.DeleteException)

	g.GET("/doctors/:doctorId/slots", h.ListSlots)

	g.POST("/slots/:slotId/reserve", h.ReserveSlot)
	g.POST("/slots/:slotId/book", h.BookSlot)
	g.POST("/slots/:slotId/release", h.ReleaseSlot)

	g.POST("/maintenance/sweep", h.SweepExpired)
}

// GetTemplate returns the doctor's template, creating an empty version 0
// template on first access.
func (h *Handler) GetTemplate(c echo.Context) error {
	doctorID, err := pathUUID(c, "doctorId")
	if err != nil {
		return err
	}
	tmpl, err := h.svc.GetTemplate(c.Request().Context(), doctorID)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, tmpl)
}

type previewRequest struct {
	Rules json.RawMessage `json:"rules"`
	From  string          `json:"from"`
	To    string          `json:"to"`
}

// PreviewTemplate dry-runs candidate rules without persisting anything.
func (h *Handler) PreviewTemplate(c echo.Context) error {
	doctorID, err := pathUUID(c, "doctorId")
	if err != nil {
		return err
	}
	var req previewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	from, to, err := h.window(req.From, req.To)
	if err != nil {
		return err
	}

	result, err := h.svc.PreviewTemplate(c.Request().Context(), doctorID, req.Rules, from, to)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

type publishRequest struct {
	Rules       json.RawMessage `json:"rules"`
	BaseVersion int             `json:"base_version"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Mode        RegenerateMode  `json:"regenerate_mode"`
}

// PublishTemplate saves the rules as the next template version and
// materializes slots over the window.
func (h *Handler) PublishTemplate(c echo.Context) error {
	doctorID, err := pathUUID(c, "doctorId")
	if err != nil {
		return err
	}
	var req publishRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Mode == "" {
		req.Mode = AppendMissing
	}
	from, to, err := h.window(req.From, req.To)
	if err != nil {
		return err
	}

	result, err := h.svc.PublishTemplate(c.Request().Context(), doctorID, req.Rules, req.BaseVersion, from, to, req.Mode)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

type exceptionRequest struct {
	Date          string             `json:"date"`
	Kind          ExceptionKind      `json:"kind"`
	AddSlots      []TimeBlock        `json:"add_slots,omitempty"`
	Modifications []SlotModification `json:"modifications,omitempty"`
}

// CreateException stores a one-off availability override.
func (h *Handler) CreateException(c echo.Context) error {
	doctorID, err := pathUUID(c, "doctorId")
	if err != nil {
		return err
	}
	var req exceptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}

	exc := &AvailabilityException{
		DoctorID:      doctorID,
		Date:          date,
		Kind:          req.Kind,
		AddSlots:      req.AddSlots,
		Modifications: req.Modifications,
	}
	if err := h.svc.CreateException(c.Request().Context(), exc); err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusCreated, exc)
}

// ListExceptions returns the doctor's overrides, optionally windowed by
// from/to query parameters.
func (h *Handler) ListExceptions(c echo.Context) error {
	doctorID, err := pathUUID(c, "doctorId")
	if err != nil {
		return err
	}
	var from, to *time.Time
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "from must be YYYY-MM-DD")
		}
		from = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "to must be YYYY-MM-DD")
		}
		to = &t
	}

	exceptions, err := h.svc.ListExceptions(c.Request().Context(), doctorID, from, to)
	if err != nil {
		return h.mapError(err)
	}
	if exceptions == nil {
		exceptions = []*AvailabilityException{}
	}
	return c.JSON(http.StatusOK, map[string]any{"exceptions": exceptions})
}

// DeleteException removes an override. Already generated slots stay as they
// are.
func (h *Handler) DeleteException(c echo.Context) error {
	doctorID, err := pathUUID(c, "doctorId")
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteException(c.Request().Context(), doctorID, id); err != nil {
		return h.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type slotResponse struct {
	ID       uuid.UUID `json:"id"`
	Date     string    `json:"date"`
	Start    string    `json:"start_time"`
	End      string    `json:"end_time"`
	SlotHash string    `json:"slot_hash"`
}

// ListSlots returns a page of the doctor's bookable slots.
func (h *Handler) ListSlots(c echo.Context) error {
	doctorID, err := pathUUID(c, "doctorId")
	if err != nil {
		return err
	}
	from, to, err := h.window(c.QueryParam("from"), c.QueryParam("to"))
	if err != nil {
		return err
	}
	page := pagination.FromContext(c)

	slots, total, err := h.svc.ListPublishedSlots(c.Request().Context(), doctorID, from, to, page.Limit, page.Offset)
	if err != nil {
		return h.mapError(err)
	}

	out := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotResponse{
			ID:       s.ID,
			Date:     s.Date.Format(dateLayout),
			Start:    s.StartTime,
			End:      s.EndTime,
			SlotHash: s.SlotHash,
		})
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, page.Limit, page.Offset))
}

type reserveRequest struct {
	PatientID  uuid.UUID `json:"patient_id"`
	TTLMinutes int       `json:"ttl_minutes,omitempty"`
}

// ReserveSlot places a temporary hold on a slot.
func (h *Handler) ReserveSlot(c echo.Context) error {
	slotID, err := pathUUID(c, "slotId")
	if err != nil {
		return err
	}
	var req reserveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}

	slot, err := h.lifecycle.Reserve(c.Request().Context(), slotID, req.PatientID,
		time.Duration(req.TTLMinutes)*time.Minute)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, slot)
}

type bookRequest struct {
	PatientID      uuid.UUID `json:"patient_id"`
	AppointmentRef string    `json:"appointment_ref"`
}

// BookSlot finalizes a slot into an appointment.
func (h *Handler) BookSlot(c echo.Context) error {
	slotID, err := pathUUID(c, "slotId")
	if err != nil {
		return err
	}
	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}

	slot, err := h.lifecycle.Book(c.Request().Context(), slotID, req.AppointmentRef, req.PatientID)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, slot)
}

type releaseRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ReleaseSlot returns a slot to Available from any state.
func (h *Handler) ReleaseSlot(c echo.Context) error {
	slotID, err := pathUUID(c, "slotId")
	if err != nil {
		return err
	}
	var req releaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	slot, err := h.lifecycle.Release(c.Request().Context(), slotID, req.Reason)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, slot)
}

// SweepExpired releases all lapsed reservations immediately.
func (h *Handler) SweepExpired(c echo.Context) error {
	released, err := h.lifecycle.SweepExpired(c.Request().Context())
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"released": released})
}

// window parses from/to date strings. A missing from defaults to today and a
// missing to defaults to from plus the configured horizon.
func (h *Handler) window(fromStr, toStr string) (time.Time, time.Time, error) {
	from := DateOnly(time.Now().UTC())
	if fromStr != "" {
		parsed, err := time.Parse(dateLayout, fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "from must be YYYY-MM-DD")
		}
		from = parsed
	}
	to := from.AddDate(0, 0, h.horizonDays)
	if toStr != "" {
		parsed, err := time.Parse(dateLayout, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "to must be YYYY-MM-DD")
		}
		to = parsed
	}
	return from, to, nil
}

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, name+" must be a UUID")
	}
	return id, nil
}

// mapError converts domain errors to HTTP responses. Stage and partial insert
// wrappers are unwrapped so the underlying condition picks the status code.
func (h *Handler) mapError(err error) error {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return echo.NewHTTPError(http.StatusConflict, map[string]any{
			"message":         "template changed concurrently",
			"current_version": conflict.CurrentVersion,
			"current_rules":   conflict.CurrentRules,
		})
	}
	var partial *PartialInsertError
	if errors.As(err, &partial) {
		return echo.NewHTTPError(http.StatusInternalServerError, map[string]any{
			"message":   "slot insert partially failed",
			"succeeded": partial.Succeeded,
			"failed":    partial.Failed,
		})
	}

	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrSlotUnavailable):
		return echo.NewHTTPError(http.StatusConflict, "slot is not available")
	default:
		h.logger.Error().Err(err).Msg("unhandled availability error")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
