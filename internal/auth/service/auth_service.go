// Package service implements the token lifecycle core: credential verification,
// tenant resolution, minting, refresh, and org switching. Tokens are stateless
// bearer artifacts; authorization is re-derived from current membership state at
// every refresh and switch, which is the system's only revocation mechanism.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"org-auth-service/internal/audit"
	auditdomain "org-auth-service/internal/audit/domain"
	membershipdomain "org-auth-service/internal/membership/domain"
	orgdomain "org-auth-service/internal/organization/domain"
	"org-auth-service/internal/security"
	userdomain "org-auth-service/internal/user/domain"
)

// maxAuditPageSize caps one page of audit log reads.
const maxAuditPageSize = 100

// Sentinel errors for the auth service; the handler maps them to HTTP statuses.
// Token parse failures surface as security.ErrMalformedToken / security.ErrExpiredToken.
var (
	// ErrValidation wraps input validation failures (bad email, weak password).
	ErrValidation = errors.New("validation failed")

	ErrEmailAlreadyRegistered = errors.New("email already registered")
	// ErrInvalidCredentials covers unknown email, wrong password, and disabled
	// account alike; callers must not be able to tell these apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNoAccess is returned when a requested org is not held by the user.
	ErrNoAccess = errors.New("no access to organization")
	// ErrInvalidSubject is returned when the token's subject no longer exists or
	// has been deactivated since issuance.
	ErrInvalidSubject = errors.New("invalid token subject")
	// ErrMembershipRevoked is returned when an org binding that was valid at mint
	// time has since been deactivated. Distinct from ErrNoAccess: it reflects a
	// previously valid binding that lapsed.
	ErrMembershipRevoked = errors.New("organization membership revoked")
)

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
}

// OrgRepo is the minimal organization repository needed by the auth service.
type OrgRepo interface {
	GetByID(ctx context.Context, id string) (*orgdomain.Org, error)
	ListByIDs(ctx context.Context, ids []string) ([]*orgdomain.Org, error)
}

// MembershipRepo is the minimal membership repository needed by the auth service.
// Both reads are against current state; the service never trusts cached claims.
type MembershipRepo interface {
	GetActiveByUserAndOrg(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*membershipdomain.Membership, error)
}

// AuditRepo is the read side of the audit trail, served to org admins.
type AuditRepo interface {
	ListByOrg(ctx context.Context, orgID string, limit, offset int32) ([]*auditdomain.AuditLog, error)
}

// Hasher hashes and verifies login secrets.
type Hasher interface {
	Hash(password []byte) (string, error)
	Compare(hash string, password []byte) error
}

// OrgMembership pairs an org with the user's membership in it, for display.
type OrgMembership struct {
	Org        *orgdomain.Org
	Membership *membershipdomain.Membership
}

// LoginResult holds the outcome of a successful Login.
type LoginResult struct {
	Tokens     *security.TokenPair
	User       *userdomain.User
	CurrentOrg *orgdomain.Org               // nil for an identity-only login
	Membership *membershipdomain.Membership // nil for an identity-only login
	Orgs       []*OrgMembership
}

// SwitchResult holds the outcome of a successful SwitchOrg.
type SwitchResult struct {
	Tokens     *security.TokenPair
	Org        *orgdomain.Org
	Membership *membershipdomain.Membership
}

// AuthService is the token lifecycle core. It is stateless and request-scoped:
// no shared mutable state beyond the repositories and the signing key.
type AuthService struct {
	userRepo       UserRepo
	orgRepo        OrgRepo
	membershipRepo MembershipRepo
	auditRepo      AuditRepo
	hasher         Hasher
	tokens         *security.TokenProvider
	recorder       audit.Recorder
	dummyHash      string
}

// NewAuthService returns an AuthService with the given dependencies.
// recorder may be nil; events are then discarded. auditRepo may be nil;
// AuditLogs then returns no entries.
func NewAuthService(
	userRepo UserRepo,
	orgRepo OrgRepo,
	membershipRepo MembershipRepo,
	auditRepo AuditRepo,
	hasher Hasher,
	tokens *security.TokenProvider,
	recorder audit.Recorder,
) *AuthService {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	// Hashed once up front so failed logins against unknown accounts can burn
	// a comparison of the same cost as a real one.
	dummyHash, _ := hasher.Hash([]byte("credential-timing-equalizer"))
	return &AuthService{
		userRepo:       userRepo,
		orgRepo:        orgRepo,
		membershipRepo: membershipRepo,
		auditRepo:      auditRepo,
		hasher:         hasher,
		tokens:         tokens,
		recorder:       recorder,
		dummyHash:      dummyHash,
	}
}

// Register creates a user with the given email and hashed password. Returns the
// created user; no tokens are issued (the caller must Login).
func (s *AuthService) Register(ctx context.Context, email, password, name string) (*userdomain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hashed,
		Status:       userdomain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies the credentials, resolves the org context, and mints a token pair.
//
// When requestedOrgID is set, an active membership in that org is required;
// otherwise the first active membership in creation order is bound, and a user
// with no memberships gets an identity-only pair (success, not failure).
func (s *AuthService) Login(ctx context.Context, email, password, requestedOrgID string) (*LoginResult, error) {
	user, err := s.verifyCredentials(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.recorder.Record(ctx, audit.Event{
				Action:   audit.ActionLoginFailure,
				Metadata: `{"email":` + quote(email) + `}`,
			})
		}
		return nil, err
	}

	org, membership, err := s.resolveOrg(ctx, user, requestedOrgID)
	if err != nil {
		if errors.Is(err, ErrNoAccess) {
			s.recorder.Record(ctx, audit.Event{
				Action:   audit.ActionLoginFailure,
				UserID:   user.ID,
				Metadata: `{"requested_org":` + quote(requestedOrgID) + `}`,
			})
		}
		return nil, err
	}

	pair, err := s.tokens.IssuePair(user.ID, orgBinding(org, membership))
	if err != nil {
		return nil, err
	}

	orgs, err := s.Organizations(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, audit.Event{
		Action: audit.ActionLoginSuccess,
		OrgID:  orgID(org),
		UserID: user.ID,
	})
	return &LoginResult{
		Tokens:     pair,
		User:       user,
		CurrentOrg: org,
		Membership: membership,
		Orgs:       orgs,
	}, nil
}

// Refresh validates the refresh token against current state and mints a new pair.
//
// A token with an org claim must still map to an active membership; when the
// membership has been deactivated the refresh fails with ErrMembershipRevoked
// even though the token itself has not expired. The role is re-snapshotted from
// the freshly loaded membership, so role changes take effect here. The old
// refresh token is not invalidated; it simply ages out.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*security.TokenPair, error) {
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if !user.Active() {
		return nil, ErrInvalidSubject
	}

	var binding *security.OrgBinding
	if claims.OrgID != "" {
		membership, err := s.membershipRepo.GetActiveByUserAndOrg(ctx, user.ID, claims.OrgID)
		if err != nil {
			return nil, err
		}
		if membership == nil {
			s.recorder.Record(ctx, audit.Event{
				Action:   audit.ActionTokenRevoked,
				OrgID:    claims.OrgID,
				UserID:   user.ID,
				Metadata: `{"reason":"membership revoked"}`,
			})
			return nil, ErrMembershipRevoked
		}
		binding = &security.OrgBinding{
			OrgID:    membership.OrgID,
			Role:     string(membership.Role),
			OrgAdmin: membership.IsOrgAdmin,
		}
	}

	pair, err := s.tokens.IssuePair(user.ID, binding)
	if err != nil {
		return nil, err
	}
	s.recorder.Record(ctx, audit.Event{
		Action: audit.ActionTokenRefresh,
		OrgID:  claims.OrgID,
		UserID: user.ID,
	})
	return pair, nil
}

// SwitchOrg mints a pair bound to targetOrgID for an already-authenticated user.
// fromOrgID is the caller's current org context (may be empty) and is reported
// on a denied switch. Membership state is never mutated here.
func (s *AuthService) SwitchOrg(ctx context.Context, user *userdomain.User, targetOrgID, fromOrgID string) (*SwitchResult, error) {
	membership, err := s.membershipRepo.GetActiveByUserAndOrg(ctx, user.ID, targetOrgID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		s.recorder.Record(ctx, audit.Event{
			Action:   audit.ActionPermissionDenied,
			OrgID:    fromOrgID,
			UserID:   user.ID,
			Resource: "org:" + targetOrgID,
		})
		return nil, ErrNoAccess
	}

	org, err := s.orgRepo.GetByID(ctx, targetOrgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, ErrNoAccess
	}

	pair, err := s.tokens.IssuePair(user.ID, &security.OrgBinding{
		OrgID:    membership.OrgID,
		Role:     string(membership.Role),
		OrgAdmin: membership.IsOrgAdmin,
	})
	if err != nil {
		return nil, err
	}
	s.recorder.Record(ctx, audit.Event{
		Action:   audit.ActionOrgSwitch,
		OrgID:    targetOrgID,
		UserID:   user.ID,
		Metadata: `{"from_org":` + quote(fromOrgID) + `}`,
	})
	return &SwitchResult{Tokens: pair, Org: org, Membership: membership}, nil
}

// Organizations returns the user's active org memberships in creation order,
// joined with the org records.
func (s *AuthService) Organizations(ctx context.Context, userID string) ([]*OrgMembership, error) {
	memberships, err := s.membershipRepo.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return nil, nil
	}
	ids := make([]string, len(memberships))
	for i, m := range memberships {
		ids[i] = m.OrgID
	}
	orgs, err := s.orgRepo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*orgdomain.Org, len(orgs))
	for _, o := range orgs {
		byID[o.ID] = o
	}
	out := make([]*OrgMembership, 0, len(memberships))
	for _, m := range memberships {
		out = append(out, &OrgMembership{Org: byID[m.OrgID], Membership: m})
	}
	return out, nil
}

// AuditLogs returns the org's audit trail, newest first. Only an org admin of
// orgID may read it; anyone else gets ErrNoAccess and a permission_denied event.
func (s *AuthService) AuditLogs(ctx context.Context, user *userdomain.User, orgID string, limit, offset int32) ([]*auditdomain.AuditLog, error) {
	membership, err := s.membershipRepo.GetActiveByUserAndOrg(ctx, user.ID, orgID)
	if err != nil {
		return nil, err
	}
	if membership == nil || !membership.IsOrgAdmin {
		s.recorder.Record(ctx, audit.Event{
			Action:   audit.ActionPermissionDenied,
			OrgID:    orgID,
			UserID:   user.ID,
			Resource: "audit_logs",
		})
		return nil, ErrNoAccess
	}
	if s.auditRepo == nil {
		return nil, nil
	}
	if limit <= 0 || limit > maxAuditPageSize {
		limit = maxAuditPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.auditRepo.ListByOrg(ctx, orgID, limit, offset)
}

// ValidateAccess parses and verifies an access token. It checks the token only;
// callers that need a live subject must also call UserByID.
func (s *AuthService) ValidateAccess(tokenString string) (*security.Claims, error) {
	return s.tokens.ValidateAccess(tokenString)
}

// UserByID loads a user and checks it can act as a token subject.
// Returns ErrInvalidSubject for missing or disabled users.
func (s *AuthService) UserByID(ctx context.Context, id string) (*userdomain.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.Active() {
		return nil, ErrInvalidSubject
	}
	return user, nil
}

// verifyCredentials checks email/password against the stored hash. Unknown
// email, disabled account, and wrong password all fail identically: every
// branch performs exactly one hash comparison, so neither the response nor its
// timing class leaks account existence or state.
func (s *AuthService) verifyCredentials(ctx context.Context, email, password string) (*userdomain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if !user.Active() {
		_ = s.hasher.Compare(s.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// resolveOrg selects the org context to bind. An explicit request is a hard
// authorization check; without one, the first active membership in creation
// order wins, and zero memberships yields an identity-only context.
func (s *AuthService) resolveOrg(ctx context.Context, user *userdomain.User, requestedOrgID string) (*orgdomain.Org, *membershipdomain.Membership, error) {
	requestedOrgID = strings.TrimSpace(requestedOrgID)
	if requestedOrgID != "" {
		membership, err := s.membershipRepo.GetActiveByUserAndOrg(ctx, user.ID, requestedOrgID)
		if err != nil {
			return nil, nil, err
		}
		if membership == nil {
			return nil, nil, ErrNoAccess
		}
		org, err := s.orgRepo.GetByID(ctx, requestedOrgID)
		if err != nil {
			return nil, nil, err
		}
		if org == nil {
			return nil, nil, ErrNoAccess
		}
		return org, membership, nil
	}

	memberships, err := s.membershipRepo.ListActiveByUser(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(memberships) == 0 {
		return nil, nil, nil
	}
	first := memberships[0]
	org, err := s.orgRepo.GetByID(ctx, first.OrgID)
	if err != nil {
		return nil, nil, err
	}
	return org, first, nil
}

func orgBinding(org *orgdomain.Org, m *membershipdomain.Membership) *security.OrgBinding {
	if org == nil || m == nil {
		return nil
	}
	return &security.OrgBinding{
		OrgID:    org.ID,
		Role:     string(m.Role),
		OrgAdmin: m.IsOrgAdmin,
	}
}

func orgID(org *orgdomain.Org) string {
	if org == nil {
		return ""
	}
	return org.ID
}

// quote renders s as a JSON string, including control-character escapes, for
// inline audit metadata fragments.
func quote(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	const simpleEmail = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	ok, _ := regexp.MatchString(simpleEmail, email)
	if !ok {
		return fmt.Errorf("%w: invalid email format", ErrValidation)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	}
	return nil
}
