package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/leozw/sitestats/internal/core"
	"github.com/leozw/sitestats/internal/fetcher"
	"github.com/leozw/sitestats/internal/store"
	"go.uber.org/zap"
)

type CreateSiteRequest struct {
	Domain string `json:"domain" binding:"required"`
	Label  string `json:"label"`
	APIKey string `json:"apiKey"`
}

// UpdateSiteRequest is a partial edit; omitted fields are kept.
type UpdateSiteRequest struct {
	Domain *string `json:"domain"`
	Label  *string `json:"label"`
	APIKey *string `json:"apiKey"`
}

func normalizeDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	domain = strings.TrimPrefix(strings.TrimPrefix(domain, "https://"), "http://")
	return strings.TrimSuffix(domain, "/")
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}

// verify fetches today's stats for site once when the request asks for it.
// It writes the error response and returns false when the provider rejects
// the site.
func (h *Handler) verify(c *gin.Context, site core.Site) bool {
	if c.Query("verify") != "true" || h.verifier == nil {
		return true
	}

	_, err := h.verifier.Fetch(c.Request.Context(), site, core.RangeToday)
	if err == nil {
		return true
	}

	kind := fetcher.KindOf(err)
	status := http.StatusBadGateway
	switch kind {
	case fetcher.KindAuth:
		status = http.StatusUnauthorized
	case fetcher.KindNotFound:
		status = http.StatusBadRequest
	}
	h.logger.Info("Website verification failed",
		zap.String("domain", site.Domain),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	c.JSON(status, gin.H{
		"error":     fetcher.Message(err),
		"errorKind": kind,
	})
	return false
}

// refreshAfterEdit starts a cycle so an edited site is refetched without
// waiting for the next background refresh.
func (h *Handler) refreshAfterEdit(ctx context.Context) {
	if _, err := h.session.Refresh(ctx); err != nil {
		h.logger.Warn("Refresh after website edit failed", zap.Error(err))
	}
}

func (h *Handler) ListSites(c *gin.Context) {
	snap, err := h.session.Snapshot(c.Request.Context())
	if err != nil {
		h.internalError(c, "Failed to list websites", err)
		return
	}

	sites := make([]SiteResponse, 0, len(snap.Sites))
	for _, s := range snap.Sites {
		sites = append(sites, newSiteResponse(s, snap.ActiveSiteID))
	}
	c.JSON(http.StatusOK, gin.H{
		"sites": sites,
		"count": len(sites),
	})
}

// CreateSite stores a new website. The watcher publishes it and the
// session fetches its stats on the next poll. With verify=true the
// provider must accept the site first.
func (h *Handler) CreateSite(c *gin.Context) {
	var req CreateSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	site := core.Site{
		Domain: normalizeDomain(req.Domain),
		Label:  strings.TrimSpace(req.Label),
		APIKey: strings.TrimSpace(req.APIKey),
	}
	if site.Domain == "" {
		h.storeError(c, store.ErrInvalidSite)
		return
	}
	if !h.verify(c, site) {
		return
	}

	site, err := h.sites.AddSite(c.Request.Context(), site)
	if err != nil {
		h.storeError(c, err)
		return
	}

	h.logger.Info("Website added", zap.String("site_id", site.ID), zap.String("domain", site.Domain))
	c.JSON(http.StatusCreated, newSiteResponse(site, ""))
}

// UpdateSite edits a website in place. The watcher does not publish
// in-place edits, so a refresh is started here.
func (h *Handler) UpdateSite(c *gin.Context) {
	var req UpdateSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	update := store.SiteUpdate{
		Label:  trimmed(req.Label),
		APIKey: trimmed(req.APIKey),
	}
	if req.Domain != nil {
		domain := normalizeDomain(*req.Domain)
		update.Domain = &domain
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	if c.Query("verify") == "true" {
		current, err := h.findSite(ctx, id)
		if err != nil {
			h.storeError(c, err)
			return
		}
		next, err := update.Apply(current)
		if err != nil {
			h.storeError(c, err)
			return
		}
		if !h.verify(c, next) {
			return
		}
	}

	site, err := h.sites.UpdateSite(ctx, id, update)
	if err != nil {
		h.storeError(c, err)
		return
	}

	h.logger.Info("Website updated", zap.String("site_id", site.ID), zap.String("domain", site.Domain))
	h.refreshAfterEdit(ctx)
	c.JSON(http.StatusOK, newSiteResponse(site, ""))
}

func (h *Handler) findSite(ctx context.Context, id string) (core.Site, error) {
	sites, err := h.sites.ListSites(ctx)
	if err != nil {
		return core.Site{}, err
	}
	for _, s := range sites {
		if s.ID == id {
			return s, nil
		}
	}
	return core.Site{}, store.ErrSiteNotFound
}

func (h *Handler) DeleteSite(c *gin.Context) {
	id := c.Param("id")
	if err := h.sites.RemoveSite(c.Request.Context(), id); err != nil {
		h.storeError(c, err)
		return
	}

	h.logger.Info("Website removed", zap.String("site_id", id))
	c.Status(http.StatusNoContent)
}

type activeRequest struct {
	ID string `json:"id" binding:"required"`
}

func (h *Handler) SetActive(c *gin.Context) {
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	site, err := h.session.SwitchSite(c.Request.Context(), req.ID)
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSiteResponse(site, site.ID))
}

func (h *Handler) NextSite(c *gin.Context) {
	site, err := h.session.NextSite(c.Request.Context())
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSiteResponse(site, site.ID))
}
