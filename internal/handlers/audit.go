package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/clinicauth/internal/services"
	apperrors "github.com/charlesng35/clinicauth/pkg/errors"
	"github.com/charlesng35/clinicauth/pkg/response"
)

type AuditHandler struct {
	svc *services.AuditService
}

func NewAuditHandler(svc *services.AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// GET /api/audit
func (h *AuditHandler) List(c *gin.Context) {
	filters, ok := auditFilters(c)
	if !ok {
		return
	}
	page := parseIntQuery(c, "page", 1)
	per := parseIntQuery(c, "per_page", 50)

	logs, total, err := h.svc.List(requestContext(c), services.AuditListOptions{Page: page, PageSize: per, Filters: filters})
	if err != nil {
		response.Error(c, translateError(err))
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, logs, response.NewMeta(page, per, total))
}

// GET /api/audit/export
func (h *AuditHandler) Export(c *gin.Context) {
	filters, ok := auditFilters(c)
	if !ok {
		return
	}

	logs, err := h.svc.Export(requestContext(c), filters)
	if err != nil {
		response.Error(c, translateError(err))
		return
	}

	c.Header("Content-Disposition", "attachment; filename=audit-"+time.Now().UTC().Format("20060102T150405Z")+".json")
	response.Success(c, http.StatusOK, logs)
}

func auditFilters(c *gin.Context) (services.AuditFilters, bool) {
	filters := services.AuditFilters{
		UserID:   strings.TrimSpace(c.Query("user_id")),
		Action:   strings.TrimSpace(c.Query("action")),
		Result:   strings.TrimSpace(c.Query("result")),
		Resource: strings.TrimSpace(c.Query("resource")),
		Search:   strings.TrimSpace(c.Query("q")),
	}

	for key, dest := range map[string]**time.Time{"since": &filters.Since, "until": &filters.Until} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, apperrors.NewBadRequest(key+" must be an RFC 3339 timestamp"))
			return services.AuditFilters{}, false
		}
		t = t.UTC()
		*dest = &t
	}
	return filters, true
}
