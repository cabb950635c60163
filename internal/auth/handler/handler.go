// Package handler exposes the auth service over HTTP. Handlers bind JSON
// payloads, delegate to the service, and map its sentinel errors to statuses;
// no lifecycle decisions live here.
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"org-auth-service/internal/auth/service"
	membershipdomain "org-auth-service/internal/membership/domain"
	orgdomain "org-auth-service/internal/organization/domain"
	"org-auth-service/internal/security"
	userdomain "org-auth-service/internal/user/domain"
)

// Handler serves the auth endpoints.
type Handler struct {
	auth *service.AuthService
}

func NewHandler(auth *service.AuthService) *Handler {
	return &Handler{auth: auth}
}

// RegisterRoutes mounts all auth endpoints on r. Routes under the bearer-token
// middleware require a valid access token.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Use(clientIP())

	r.POST("/auth/register", h.register)
	r.POST("/auth/login", h.login)
	r.POST("/auth/refresh", h.refresh)

	authed := r.Group("/auth", RequireAuth(h.auth))
	authed.POST("/switch-org", h.switchOrg)
	authed.GET("/me", h.me)
	authed.GET("/audit-logs", h.auditLogs)
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type orgResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type profileResponse struct {
	ID                  string `json:"id"`
	Role                string `json:"role"`
	IsOrganizationAdmin bool   `json:"is_organization_admin"`
}

type orgMembershipResponse struct {
	Organization orgResponse     `json:"organization"`
	Profile      profileResponse `json:"profile"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access"`
	RefreshToken     string    `json:"refresh"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type loginResponse struct {
	tokenResponse
	User          userResponse            `json:"user"`
	CurrentOrg    *orgResponse            `json:"current_org,omitempty"`
	Profile       *profileResponse        `json:"profile,omitempty"`
	Organizations []orgMembershipResponse `json:"organizations"`
}

type switchResponse struct {
	tokenResponse
	CurrentOrg orgResponse     `json:"current_org"`
	Profile    profileResponse `json:"profile"`
}

type meResponse struct {
	User          userResponse            `json:"user"`
	Organizations []orgMembershipResponse `json:"organizations"`
}

func toUser(u *userdomain.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name}
}

func toOrg(o *orgdomain.Org) orgResponse {
	return orgResponse{ID: o.ID, Name: o.Name}
}

func toProfile(m *membershipdomain.Membership) profileResponse {
	return profileResponse{ID: m.ID, Role: string(m.Role), IsOrganizationAdmin: m.IsOrgAdmin}
}

func toTokens(p *security.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

func toOrgMemberships(orgs []*service.OrgMembership) []orgMembershipResponse {
	out := make([]orgMembershipResponse, 0, len(orgs))
	for _, om := range orgs {
		out = append(out, orgMembershipResponse{
			Organization: toOrg(om.Org),
			Profile:      toProfile(om.Membership),
		})
	}
	return out
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.auth.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": toUser(user)})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	OrgID    string `json:"org_id"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := h.auth.Login(c.Request.Context(), req.Email, req.Password, req.OrgID)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := loginResponse{
		tokenResponse: toTokens(res.Tokens),
		User:          toUser(res.User),
		Organizations: toOrgMemberships(res.Orgs),
	}
	if res.CurrentOrg != nil {
		org := toOrg(res.CurrentOrg)
		profile := toProfile(res.Membership)
		resp.CurrentOrg = &org
		resp.Profile = &profile
	}
	c.JSON(http.StatusOK, resp)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh"`
}

func (h *Handler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	pair, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTokens(pair))
}

type switchOrgRequest struct {
	OrgID string `json:"org_id"`
}

func (h *Handler) switchOrg(c *gin.Context) {
	var req switchOrgRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OrgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user := currentUser(c)
	claims := currentClaims(c)
	if user == nil || claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	res, err := h.auth.SwitchOrg(c.Request.Context(), user, req.OrgID, claims.OrgID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, switchResponse{
		tokenResponse: toTokens(res.Tokens),
		CurrentOrg:    toOrg(res.Org),
		Profile:       toProfile(res.Membership),
	})
}

func (h *Handler) me(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	orgs, err := h.auth.Organizations(c.Request.Context(), user.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, meResponse{
		User:          toUser(user),
		Organizations: toOrgMemberships(orgs),
	})
}

type auditLogResponse struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	UserID    string    `json:"user_id,omitempty"`
	Resource  string    `json:"resource,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// auditLogs serves the audit trail of the caller's current org. The service
// enforces that only org admins may read it.
func (h *Handler) auditLogs(c *gin.Context) {
	user := currentUser(c)
	claims := currentClaims(c)
	if user == nil || claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 32)
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 32)

	entries, err := h.auth.AuditLogs(c.Request.Context(), user, claims.OrgID, int32(limit), int32(offset))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]auditLogResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditLogResponse{
			ID:        e.ID,
			Action:    e.Action,
			UserID:    e.UserID,
			Resource:  e.Resource,
			IP:        e.IP,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"audit_logs": out})
}

// writeError maps service and token errors to HTTP statuses. Unknown errors
// become 500 without leaking detail.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidSubject),
		errors.Is(err, security.ErrMalformedToken),
		errors.Is(err, security.ErrExpiredToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNoAccess),
		errors.Is(err, service.ErrMembershipRevoked):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrEmailAlreadyRegistered):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
