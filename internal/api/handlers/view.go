package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/leozw/sitestats/internal/core"
	"github.com/leozw/sitestats/internal/fetcher"
	"github.com/leozw/sitestats/internal/format"
	"github.com/leozw/sitestats/internal/refresh"
	"github.com/leozw/sitestats/internal/session"
	"github.com/leozw/sitestats/internal/store"
	"go.uber.org/zap"
)

type SiteResponse struct {
	ID        string `json:"id"`
	Domain    string `json:"domain"`
	Label     string `json:"label,omitempty"`
	Name      string `json:"name"`
	HasAPIKey bool   `json:"hasApiKey"`
	Active    bool   `json:"active"`
}

func newSiteResponse(site core.Site, activeID string) SiteResponse {
	return SiteResponse{
		ID:        site.ID,
		Domain:    site.Domain,
		Label:     site.Label,
		Name:      site.DisplayName(),
		HasAPIKey: site.APIKey != "",
		Active:    site.ID == activeID,
	}
}

type StatsResponse struct {
	Stats      *core.Stats    `json:"stats,omitempty"`
	StatsRange core.TimeRange `json:"statsRange,omitempty"`
	FetchedAt  *time.Time     `json:"fetchedAt,omitempty"`
	Loading    bool           `json:"loading"`
	Error      string         `json:"error,omitempty"`
	ErrorKind  fetcher.Kind   `json:"errorKind,omitempty"`
}

func newStatsResponse(r core.StatsResult) StatsResponse {
	resp := StatsResponse{
		Stats:      r.Stats,
		StatsRange: r.StatsRange,
		Loading:    r.Loading,
	}
	if !r.FetchedAt.IsZero() {
		at := r.FetchedAt
		resp.FetchedAt = &at
	}
	if r.Err != nil {
		resp.Error = fetcher.Message(r.Err)
		resp.ErrorKind = fetcher.KindOf(r.Err)
	}
	return resp
}

type ViewResponse struct {
	Configured     bool           `json:"configured"`
	Title          string         `json:"title"`
	Tooltip        string         `json:"tooltip"`
	Site           *SiteResponse  `json:"site,omitempty"`
	Sites          []SiteResponse `json:"sites"`
	TimeRange      core.TimeRange `json:"timeRange"`
	TimeRangeLabel string         `json:"timeRangeLabel"`
	Stale          bool           `json:"stale"`
	Refreshing     bool           `json:"refreshing"`
	DashboardURL   string         `json:"dashboardUrl,omitempty"`
	StatsResponse
}

// View is the display event: it answers from cache and kicks off a refresh
// when the cache is not valid.
func (h *Handler) View(c *gin.Context) {
	v, err := h.session.View(c.Request.Context())
	if err != nil {
		h.internalError(c, "Failed to load configuration", err)
		return
	}

	resp := ViewResponse{
		Configured:     v.Configured,
		Sites:          make([]SiteResponse, 0, len(v.Sites)),
		TimeRange:      v.TimeRange,
		TimeRangeLabel: v.TimeRange.Label(),
		Stale:          v.Stale,
		Refreshing:     v.Refreshing,
		StatsResponse:  newStatsResponse(v.Result),
	}
	for _, s := range v.Sites {
		resp.Sites = append(resp.Sites, newSiteResponse(s, v.Site.ID))
	}

	var site *core.Site
	if v.Configured {
		site = &v.Site
		sr := newSiteResponse(v.Site, v.Site.ID)
		resp.Site = &sr
		if h.dashboard != nil {
			resp.DashboardURL = h.dashboard(v.Site.Domain)
		}
	}
	resp.Title = format.Title(site, v.Result, h.displayMode)
	resp.Tooltip = format.Tooltip(site, v.TimeRange, v.Result.Stats)

	c.JSON(http.StatusOK, resp)
}

// Stats returns the cached entry for one site without triggering a fetch.
func (h *Handler) Stats(c *gin.Context) {
	result, ok := h.session.Stats(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No stats cached for this site"})
		return
	}
	c.JSON(http.StatusOK, newStatsResponse(result))
}

type RefreshResponse struct {
	CycleID   string            `json:"cycleId"`
	Mode      refresh.Mode      `json:"mode"`
	TimeRange core.TimeRange    `json:"timeRange"`
	StartedAt time.Time         `json:"startedAt"`
	Done      bool              `json:"done"`
	Failures  map[string]string `json:"failures,omitempty"`
}

func newRefreshResponse(cycle *refresh.Cycle) RefreshResponse {
	resp := RefreshResponse{
		CycleID:   cycle.ID,
		Mode:      cycle.Mode,
		TimeRange: cycle.TimeRange,
		StartedAt: cycle.StartedAt,
	}
	select {
	case <-cycle.Done():
		resp.Done = true
		if failures := cycle.Failures(); len(failures) > 0 {
			resp.Failures = make(map[string]string, len(failures))
			for id, err := range failures {
				resp.Failures[id] = fetcher.Message(err)
			}
		}
	default:
	}
	return resp
}

// Refresh starts a manual refresh. With wait=true the response is held
// until the cycle completes or the client goes away.
func (h *Handler) Refresh(c *gin.Context) {
	cycle, err := h.session.Refresh(c.Request.Context())
	if errors.Is(err, session.ErrNoSites) {
		c.JSON(http.StatusConflict, gin.H{"error": "No websites configured"})
		return
	}
	if err != nil {
		h.internalError(c, "Failed to start refresh", err)
		return
	}
	if cycle == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Refresh unavailable"})
		return
	}

	if c.Query("wait") == "true" {
		if err := cycle.Wait(c.Request.Context()); err != nil {
			c.JSON(http.StatusRequestTimeout, gin.H{"error": "Refresh still running"})
			return
		}
		c.JSON(http.StatusOK, newRefreshResponse(cycle))
		return
	}
	c.JSON(http.StatusAccepted, newRefreshResponse(cycle))
}

type timeRangeRequest struct {
	TimeRange string `json:"timeRange" binding:"required"`
}

func (h *Handler) SetTimeRange(c *gin.Context) {
	var req timeRangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cycle, err := h.session.SetTimeRange(c.Request.Context(), core.TimeRange(req.TimeRange))
	if err != nil {
		h.storeError(c, err)
		return
	}

	resp := gin.H{"timeRange": req.TimeRange}
	if cycle != nil {
		resp["refresh"] = newRefreshResponse(cycle)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrSiteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Website not found"})
	case errors.Is(err, store.ErrInvalidTimeRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid time range"})
	case errors.Is(err, store.ErrInvalidSite):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid website"})
	case errors.Is(err, session.ErrNoSites):
		c.JSON(http.StatusConflict, gin.H{"error": "No websites configured"})
	default:
		h.internalError(c, "Config store error", err)
	}
}

func (h *Handler) internalError(c *gin.Context, msg string, err error) {
	h.logger.Error(msg, zap.Error(err), zap.String("request_id", c.GetString("request_id")))
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
