package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/application/service"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/pkg/utils"
)

// HeaderUserID carries the authenticated principal set by the upstream gateway
const HeaderUserID = "X-User-ID"

const actorKey = "actor"

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	health   HealthChecker
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, health HealthChecker, logger Logger) *Handlers {
	return &Handlers{
		services: services,
		health:   health,
		logger:   logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Detail    string `json:"detail,omitempty"`
}

// CreateRequestBody is the payload of POST /api/requests. The requester is the caller.
type CreateRequestBody struct {
	BusinessType  entity.BusinessType `json:"business_type"`
	WorkflowType  string              `json:"workflow_type"`
	Title         string              `json:"title"`
	Description   string              `json:"description"`
	Department    string              `json:"department"`
	Amount        float64             `json:"amount"`
	Currency      string              `json:"currency"`
	Urgency       entity.Urgency      `json:"urgency"`
	Justification string              `json:"justification"`
	Attachments   []string            `json:"attachments"`
	RelatedTo     entity.RelatedTo    `json:"related_to"`
	DueDate       *time.Time          `json:"due_date"`
}

// DecisionBody is shared by approve and reject
type DecisionBody struct {
	Comments    string   `json:"comments"`
	Reason      string   `json:"reason"`
	Attachments []string `json:"attachments"`
}

// ReasonBody is used by cancel, skip and hold
type ReasonBody struct {
	Reason string `json:"reason"`
}

// ResubmitBody carries the corrections of a rejected request
type ResubmitBody struct {
	Update        workflow.RequestUpdate `json:"update"`
	Justification string                 `json:"justification"`
}

// DelegateBody names the user taking over an approval slot
type DelegateBody struct {
	DelegateTo string `json:"delegate_to"`
	Comments   string `json:"comments"`
}

// requireUser rejects calls without a principal header
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := utils.SanitizeString(c.GetHeader(HeaderUserID))
		if user == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "missing " + HeaderUserID + " header",
			})
			return
		}
		c.Set(actorKey, user)
		c.Next()
	}
}

func actor(c *gin.Context) string {
	return c.GetString(actorKey)
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}
	status := http.StatusOK
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			h.logger.Error("Health check failed", "error", err)
			response.Status = "unhealthy"
			response.Detail = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// CreateRequest handles POST /api/requests
func (h *Handlers) CreateRequest(c *gin.Context) {
	var body CreateRequestBody
	if !h.bind(c, &body) {
		return
	}

	req, err := h.services.Approvals.CreateRequest(c.Request.Context(), service.CreateRequestParams{
		BusinessType:  body.BusinessType,
		WorkflowType:  utils.SanitizeString(body.WorkflowType),
		Title:         utils.SanitizeString(body.Title),
		Description:   utils.SanitizeString(body.Description),
		RequestedBy:   actor(c),
		Department:    utils.SanitizeString(body.Department),
		Amount:        body.Amount,
		Currency:      utils.SanitizeString(body.Currency),
		Urgency:       body.Urgency,
		Justification: utils.SanitizeString(body.Justification),
		Attachments:   body.Attachments,
		RelatedTo:     body.RelatedTo,
		DueDate:       body.DueDate,
	})
	if err != nil {
		h.fail(c, "Failed to create request", err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: req})
}

// GetRequest handles GET /api/requests/:id. A non-numeric id is looked up as a request number.
func (h *Handlers) GetRequest(c *gin.Context) {
	raw := c.Param("id")
	var (
		req *entity.ApprovalRequest
		err error
	)
	if id, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
		req, err = h.services.Approvals.GetRequest(c.Request.Context(), id)
	} else {
		req, err = h.services.Approvals.GetRequestByNumber(c.Request.Context(), raw)
	}
	if err != nil {
		h.fail(c, "Failed to get request", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: req})
}

// Approve handles POST /api/requests/:id/approve
func (h *Handlers) Approve(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var body DecisionBody
	if !h.bind(c, &body) {
		return
	}
	req, err := h.services.Approvals.Approve(c.Request.Context(), id, actor(c),
		utils.SanitizeString(body.Comments), body.Attachments)
	h.respond(c, "Failed to approve request", req, err)
}

// Reject handles POST /api/requests/:id/reject
func (h *Handlers) Reject(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var body DecisionBody
	if !h.bind(c, &body) {
		return
	}
	req, err := h.services.Approvals.Reject(c.Request.Context(), id, actor(c),
		utils.SanitizeString(body.Reason), utils.SanitizeString(body.Comments), body.Attachments)
	h.respond(c, "Failed to reject request", req, err)
}

// Cancel handles POST /api/requests/:id/cancel
func (h *Handlers) Cancel(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var body ReasonBody
	if !h.bind(c, &body) {
		return
	}
	req, err := h.services.Approvals.Cancel(c.Request.Context(), id, actor(c), utils.SanitizeString(body.Reason))
	h.respond(c, "Failed to cancel request", req, err)
}

// Resubmit handles POST /api/requests/:id/resubmit
func (h *Handlers) Resubmit(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var body ResubmitBody
	if !h.bind(c, &body) {
		return
	}
	if body.Update.Title != nil {
		t := utils.SanitizeString(*body.Update.Title)
		body.Update.Title = &t
	}
	if body.Update.Description != nil {
		d := utils.SanitizeString(*body.Update.Description)
		body.Update.Description = &d
	}
	req, err := h.services.Approvals.Resubmit(c.Request.Context(), id, actor(c), body.Update,
		utils.SanitizeString(body.Justification))
	h.respond(c, "Failed to resubmit request", req, err)
}

// Delegate handles POST /api/requests/:id/delegate
func (h *Handlers) Delegate(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var body DelegateBody
	if !h.bind(c, &body) {
		return
	}
	req, err := h.services.Approvals.Delegate(c.Request.Context(), id, actor(c),
		utils.SanitizeString(body.DelegateTo), utils.SanitizeString(body.Comments))
	h.respond(c, "Failed to delegate approval", req, err)
}

// SkipLevel handles POST /api/requests/:id/skip
func (h *Handlers) SkipLevel(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var body ReasonBody
	if !h.bind(c, &body) {
		return
	}
	req, err := h.services.Approvals.SkipLevel(c.Request.Context(), id, actor(c), utils.SanitizeString(body.Reason))
	h.respond(c, "Failed to skip level", req, err)
}

// Hold handles POST /api/requests/:id/hold
func (h *Handlers) Hold(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var body ReasonBody
	if !h.bind(c, &body) {
		return
	}
	req, err := h.services.Approvals.Hold(c.Request.Context(), id, actor(c), utils.SanitizeString(body.Reason))
	h.respond(c, "Failed to hold request", req, err)
}

// Resume handles POST /api/requests/:id/resume
func (h *Handlers) Resume(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	req, err := h.services.Approvals.Resume(c.Request.Context(), id, actor(c))
	h.respond(c, "Failed to resume request", req, err)
}

// PendingApprovals handles GET /api/approvals/pending?business_type=A
func (h *Handlers) PendingApprovals(c *gin.Context) {
	bt := entity.BusinessType(c.Query("business_type"))
	reqs, err := h.services.Approvals.GetPendingApprovalsForUser(c.Request.Context(), actor(c), bt)
	if err != nil {
		h.fail(c, "Failed to list pending approvals", err)
		return
	}
	if reqs == nil {
		reqs = []*entity.ApprovalRequest{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: reqs})
}

// RunEscalationSweep handles POST /api/escalations/sweep
func (h *Handlers) RunEscalationSweep(c *gin.Context) {
	result, err := h.services.Escalations.RunEscalationSweep(c.Request.Context())
	if err != nil {
		h.fail(c, "Escalation sweep failed", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// ListTemplates handles GET /api/templates?business_type=A&workflow_type=x&active=true
func (h *Handlers) ListTemplates(c *gin.Context) {
	active, _ := strconv.ParseBool(c.DefaultQuery("active", "false"))
	tpls, err := h.services.Templates.ListTemplates(c.Request.Context(), port.TemplateFilter{
		BusinessType: entity.BusinessType(c.Query("business_type")),
		WorkflowType: c.Query("workflow_type"),
		ActiveOnly:   active,
	})
	if err != nil {
		h.fail(c, "Failed to list templates", err)
		return
	}
	if tpls == nil {
		tpls = []*entity.WorkflowTemplate{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: tpls})
}

// CreateTemplate handles POST /api/templates
func (h *Handlers) CreateTemplate(c *gin.Context) {
	var tpl entity.WorkflowTemplate
	if !h.bind(c, &tpl) {
		return
	}
	if tpl.CreatedBy == "" {
		tpl.CreatedBy = utils.SanitizeString(c.GetHeader(HeaderUserID))
	}
	created, err := h.services.Templates.CreateTemplate(c.Request.Context(), &tpl)
	if err != nil {
		h.fail(c, "Failed to create template", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: created})
}

// GetTemplate handles GET /api/templates/:id
func (h *Handlers) GetTemplate(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	tpl, err := h.services.Templates.GetTemplate(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get template", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: tpl})
}

// UpdateTemplate handles PUT /api/templates/:id
func (h *Handlers) UpdateTemplate(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var tpl entity.WorkflowTemplate
	if !h.bind(c, &tpl) {
		return
	}
	updated, err := h.services.Templates.UpdateTemplate(c.Request.Context(), id, &tpl)
	if err != nil {
		h.fail(c, "Failed to update template", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: updated})
}

// DeactivateTemplate handles POST /api/templates/:id/deactivate
func (h *Handlers) DeactivateTemplate(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.services.Templates.DeactivateTemplate(c.Request.Context(), id); err != nil {
		h.fail(c, "Failed to deactivate template", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// ResolveTemplate handles POST /api/templates/resolve
func (h *Handlers) ResolveTemplate(c *gin.Context) {
	var criteria service.SelectionCriteria
	if !h.bind(c, &criteria) {
		return
	}
	tpl, err := h.services.Templates.FindApplicableTemplate(c.Request.Context(), criteria)
	if err != nil {
		h.fail(c, "Failed to resolve template", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: tpl})
}

func (h *Handlers) pathID(c *gin.Context) (int64, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.logger.Error("Invalid ID", "id", idStr)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid ID",
		})
		return 0, false
	}
	return id, true
}

// bind decodes an optional JSON body; an empty body leaves v untouched
func (h *Handlers) bind(c *gin.Context, v interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		h.logger.Error("Invalid request body", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body",
		})
		return false
	}
	return true
}

func (h *Handlers) respond(c *gin.Context, msg string, req *entity.ApprovalRequest, err error) {
	if err != nil {
		h.fail(c, msg, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: req})
}

func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "path", c.Request.URL.Path, "error", err)
		c.JSON(status, Response{Success: false, Error: "internal error"})
		return
	}
	h.logger.Info(msg, "path", c.Request.URL.Path, "status", status, "error", err)
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

// StatusFor maps the engine error taxonomy onto HTTP status codes
func StatusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrState), errors.Is(err, workflow.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrConfiguration), errors.Is(err, workflow.ErrLimit):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
