package http

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"chain-calendar/internal/application/port"
	"chain-calendar/internal/domain"
	"chain-calendar/internal/domain/entity"
	"chain-calendar/internal/pkg/apperrors"
)

const dateLayout = "2006-01-02"

type CalendarHandler struct {
	networks port.NetworkService
	calendar port.CalendarService
	filters  port.FilterService
	logger   *zap.Logger
}

func NewCalendarHandler(
	networks port.NetworkService,
	calendar port.CalendarService,
	filters port.FilterService,
	logger *zap.Logger,
) *CalendarHandler {
	return &CalendarHandler{
		networks: networks,
		calendar: calendar,
		filters:  filters,
		logger:   logger.Named("CalendarHandler"),
	}
}

type customNetworkRequest struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

type urlRequest struct {
	URL string `json:"url"`
}

type hiddenRequest struct {
	Hidden []string `json:"hidden"`
}

type filtersResponse struct {
	Networks   []string `json:"networks"`
	Categories []string `json:"categories"`
}

type dayResponse struct {
	Date  string             `json:"date"`
	Items []entity.EventItem `json:"items"`
}

type hoursResponse struct {
	Date  string                 `json:"date"`
	Hours [24][]entity.EventItem `json:"hours"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Health reports liveness.
func (h *CalendarHandler) Health(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString("OK")
}

// GetNetworks handles requests for every known network with its connection flags
func (h *CalendarHandler) GetNetworks(ctx *fasthttp.RequestCtx) {
	h.writeJSON(ctx, fasthttp.StatusOK, h.networks.Networks())
}

// GetActiveNetworks handles requests for the active networks
func (h *CalendarHandler) GetActiveNetworks(ctx *fasthttp.RequestCtx) {
	h.writeJSON(ctx, fasthttp.StatusOK, h.networks.ActiveNetworks().Value())
}

// EnableNetwork starts the activation of a network
func (h *CalendarHandler) EnableNetwork(ctx *fasthttp.RequestCtx) {
	id := pathParam(ctx, "id")
	if err := h.networks.Enable(ctx, id); err != nil {
		h.writeError(ctx, "Failed to enable network", err, zap.String("network", id))
		return
	}
	h.writeNetwork(ctx, fasthttp.StatusAccepted, id)
}

// DisableNetwork deactivates a network
func (h *CalendarHandler) DisableNetwork(ctx *fasthttp.RequestCtx) {
	id := pathParam(ctx, "id")
	if err := h.networks.Disable(ctx, id); err != nil {
		h.writeError(ctx, "Failed to disable network", err, zap.String("network", id))
		return
	}
	h.writeNetwork(ctx, fasthttp.StatusOK, id)
}

// SetNetworkURL pins the endpoint of a network
func (h *CalendarHandler) SetNetworkURL(ctx *fasthttp.RequestCtx) {
	id := pathParam(ctx, "id")
	var req urlRequest
	if !h.decode(ctx, &req) {
		return
	}
	if err := h.networks.SetManualURL(ctx, id, req.URL); err != nil {
		h.writeError(ctx, "Failed to set network url", err, zap.String("network", id))
		return
	}
	h.writeNetwork(ctx, fasthttp.StatusOK, id)
}

// CreateCustomNetwork adds a custom network with a generated id
func (h *CalendarHandler) CreateCustomNetwork(ctx *fasthttp.RequestCtx) {
	h.saveCustomNetwork(ctx, "", fasthttp.StatusCreated)
}

// SetCustomNetwork creates or updates the custom network named in the path
func (h *CalendarHandler) SetCustomNetwork(ctx *fasthttp.RequestCtx) {
	h.saveCustomNetwork(ctx, pathParam(ctx, "id"), fasthttp.StatusOK)
}

func (h *CalendarHandler) saveCustomNetwork(ctx *fasthttp.RequestCtx, id string, status int) {
	var req customNetworkRequest
	if !h.decode(ctx, &req) {
		return
	}
	network, err := h.networks.SetCustomNetwork(ctx, id, req.Label, req.URL)
	if err != nil {
		h.writeError(ctx, "Failed to save custom network", err, zap.String("network", id))
		return
	}
	h.writeJSON(ctx, status, network)
}

// DeleteCustomNetwork removes a custom network
func (h *CalendarHandler) DeleteCustomNetwork(ctx *fasthttp.RequestCtx) {
	id := pathParam(ctx, "id")
	if err := h.networks.DeleteCustomNetwork(ctx, id); err != nil {
		h.writeError(ctx, "Failed to delete custom network", err, zap.String("network", id))
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// Reconnect requests a reconnect of every network. Throttled requests are reported as not accepted.
func (h *CalendarHandler) Reconnect(ctx *fasthttp.RequestCtx) {
	accepted := h.networks.Reconnect()
	h.writeJSON(ctx, fasthttp.StatusAccepted, map[string]bool{"accepted": accepted})
}

// NetworkRestored reports that host connectivity came back.
func (h *CalendarHandler) NetworkRestored(ctx *fasthttp.RequestCtx) {
	accepted := h.networks.NetworkRestored()
	h.writeJSON(ctx, fasthttp.StatusAccepted, map[string]bool{"accepted": accepted})
}

// GetDay handles requests for the visible items of a date
func (h *CalendarHandler) GetDay(ctx *fasthttp.RequestCtx) {
	date, ok := h.parseDate(ctx)
	if !ok {
		return
	}
	h.writeJSON(ctx, fasthttp.StatusOK, dayResponse{
		Date:  date.Format(dateLayout),
		Items: h.calendar.Items(date),
	})
}

// GetDayHours handles requests for the visible items of a date grouped by hour
func (h *CalendarHandler) GetDayHours(ctx *fasthttp.RequestCtx) {
	date, ok := h.parseDate(ctx)
	if !ok {
		return
	}
	h.writeJSON(ctx, fasthttp.StatusOK, hoursResponse{
		Date:  date.Format(dateLayout),
		Hours: h.calendar.ItemsPerHour(date),
	})
}

// GetFilters returns the hidden networks and categories
func (h *CalendarHandler) GetFilters(ctx *fasthttp.RequestCtx) {
	h.writeJSON(ctx, fasthttp.StatusOK, filtersResponse{
		Networks:   h.filters.HiddenNetworks(ctx),
		Categories: h.filters.HiddenCategories(ctx),
	})
}

// SetNetworkFilter replaces the hidden networks
func (h *CalendarHandler) SetNetworkFilter(ctx *fasthttp.RequestCtx) {
	var req hiddenRequest
	if !h.decode(ctx, &req) {
		return
	}
	if err := h.filters.SetHiddenNetworks(ctx, req.Hidden); err != nil {
		h.writeError(ctx, "Failed to set network filter", err)
		return
	}
	h.GetFilters(ctx)
}

// SetCategoryFilter replaces the hidden categories
func (h *CalendarHandler) SetCategoryFilter(ctx *fasthttp.RequestCtx) {
	var req hiddenRequest
	if !h.decode(ctx, &req) {
		return
	}
	if err := h.filters.SetHiddenCategories(ctx, req.Hidden); err != nil {
		h.writeError(ctx, "Failed to set category filter", err)
		return
	}
	h.GetFilters(ctx)
}

// DeleteFilter removes a named filter
func (h *CalendarHandler) DeleteFilter(ctx *fasthttp.RequestCtx) {
	name := pathParam(ctx, "name")
	if err := h.filters.Remove(ctx, name); err != nil {
		h.writeError(ctx, "Failed to remove filter", err, zap.String("filter", name))
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (h *CalendarHandler) writeNetwork(ctx *fasthttp.RequestCtx, status int, id string) {
	network, err := h.networks.Network(id)
	if err != nil {
		h.writeError(ctx, "Failed to get network", err, zap.String("network", id))
		return
	}
	h.writeJSON(ctx, status, network)
}

func (h *CalendarHandler) parseDate(ctx *fasthttp.RequestCtx) (time.Time, bool) {
	raw := pathParam(ctx, "date")
	date, err := time.ParseInLocation(dateLayout, raw, h.calendar.Location())
	if err != nil {
		h.writeError(ctx, "Failed to parse date", errors.Join(apperrors.ErrInvalidInput, err), zap.String("date", raw))
		return time.Time{}, false
	}
	return date, true
}

func (h *CalendarHandler) decode(ctx *fasthttp.RequestCtx, v any) bool {
	if err := json.Unmarshal(ctx.PostBody(), v); err != nil {
		h.writeError(ctx, "Failed to decode request body", errors.Join(apperrors.ErrInvalidInput, err))
		return false
	}
	return true
}

func (h *CalendarHandler) writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	if err := json.NewEncoder(ctx).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError maps err onto a status code and writes it as a JSON error body.
func (h *CalendarHandler) writeError(ctx *fasthttp.RequestCtx, msg string, err error, fields ...zap.Field) {
	status := statusOf(err)
	fields = append(fields, zap.Error(err), zap.Int("status", status))
	if status >= fasthttp.StatusInternalServerError {
		h.logger.Error(msg, fields...)
	} else {
		h.logger.Debug(msg, fields...)
	}
	h.writeJSON(ctx, status, errorResponse{Error: err.Error()})
}

func statusOf(err error) int {
	switch {
	case apperrors.IsAny(err, domain.ErrNetworkNotFound, apperrors.ErrNotFound):
		return fasthttp.StatusNotFound
	case apperrors.IsAny(err, apperrors.ErrInvalidInput, domain.ErrNotCustomNetwork):
		return fasthttp.StatusBadRequest
	default:
		return fasthttp.StatusInternalServerError
	}
}

func pathParam(ctx *fasthttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}
