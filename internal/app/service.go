package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"marketplace/api/internal/auth"
	"marketplace/api/internal/authpw"
	"marketplace/api/internal/config"
	"marketplace/api/internal/gitrepo"
	"marketplace/api/internal/lifecycle"
	"marketplace/api/internal/rbac"
	"marketplace/api/internal/search"
	sessionstore "marketplace/api/internal/session"
	"marketplace/api/internal/store"
)

// Session is an authenticated principal. Token and RefreshToken are only
// set when the session was just issued.
type Session struct {
	Token        string
	RefreshToken string
	Kind         string
	AccountID    int64
	Name         string
	Email        string
	Role         string
	Permissions  []string
	JTI          string
	ExpiresAt    time.Time
}

// Actor converts the session into the principal the lifecycle engine checks.
func (s Session) Actor() lifecycle.Actor {
	switch s.Kind {
	case store.SubjectAdmin:
		return lifecycle.AdminActor(s.AccountID, s.Role, s.Permissions...)
	case store.SubjectUser:
		return lifecycle.UserActor(s.AccountID)
	default:
		return lifecycle.Anonymous()
	}
}

type AccountStore interface {
	GetUserByID(ctx context.Context, id int64) (store.User, error)
	GetAdminByID(ctx context.Context, id int64) (store.Admin, error)
	CountAdmins(ctx context.Context) (int, error)
	CreateAdmin(ctx context.Context, admin store.Admin) (store.Admin, error)
}

// SessionStore keeps refresh sessions and revoked access tokens. Both the
// Postgres store and the Redis session store implement it.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, subject store.Subject, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.Subject, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type Catalog interface {
	Search(ctx context.Context, q search.Query) search.Response
}

type RunLister interface {
	ListRegenerationRuns(ctx context.Context, limit int) ([]store.RegenerationRun, error)
}

// SiteArchive is the git history of the generated public site.
type SiteArchive interface {
	History(limit int) ([]gitrepo.Commit, error)
	ReadFile(path string) ([]byte, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Engine    *lifecycle.Engine
	Accounts  AccountStore
	Sessions  SessionStore
	Passwords *authpw.Service
	// Catalog and Runs are optional.
	Catalog Catalog
	Runs    RunLister
	Site    SiteArchive
	// Checks are reported by the readiness endpoint, keyed by name.
	Checks map[string]Pinger
	Logger logrus.FieldLogger
}

// Service is the application facade used by the HTTP server.
type Service struct {
	cfg       config.Config
	engine    *lifecycle.Engine
	accounts  AccountStore
	sessions  SessionStore
	passwords *authpw.Service
	catalog   Catalog
	runs      RunLister
	site      SiteArchive
	checks    map[string]Pinger
	log       logrus.FieldLogger
}

func New(cfg config.Config, deps Deps) *Service {
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		cfg:       cfg,
		engine:    deps.Engine,
		accounts:  deps.Accounts,
		sessions:  deps.Sessions,
		passwords: deps.Passwords,
		catalog:   deps.Catalog,
		runs:      deps.Runs,
		site:      deps.Site,
		checks:    deps.Checks,
		log:       log.WithField("component", "app"),
	}
}

// Bootstrap creates the configured super admin when no admin exists yet.
func (s *Service) Bootstrap(ctx context.Context) error {
	email := strings.TrimSpace(s.cfg.BootstrapAdminEmail)
	if email == "" || s.cfg.BootstrapAdminPassword == "" {
		return nil
	}
	count, err := s.accounts.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := s.passwords.HashPassword(s.cfg.BootstrapAdminPassword)
	if err != nil {
		return err
	}
	admin, err := s.accounts.CreateAdmin(ctx, store.Admin{
		Email:        email,
		FullName:     "Administrator",
		PasswordHash: hash,
		Role:         string(rbac.RoleSuperAdmin),
		Permissions:  rbac.Permissions(rbac.RoleSuperAdmin),
	})
	if err != nil {
		return err
	}
	s.log.WithField("admin_id", admin.ID).Info("bootstrap admin created")
	return nil
}

// Ready pings every dependency and returns the failures by name.
func (s *Service) Ready(ctx context.Context) map[string]error {
	results := make(map[string]error, len(s.checks))
	for name, check := range s.checks {
		results[name] = check.Ping(ctx)
	}
	return results
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.passwords.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.userSession(ctx, user)
}

func (s *Service) SignInUser(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwords.SignInUser(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.userSession(ctx, user)
}

func (s *Service) SignInAdmin(ctx context.Context, email, password string) (Session, error) {
	admin, err := s.passwords.SignInAdmin(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.adminSession(ctx, admin)
}

// Refresh rotates a refresh token. The presented token is revoked whether or
// not the account can still sign in.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, errSessionExpired
	}
	tokenHash := auth.HashToken(refreshToken)
	subject, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if isMissing(err) {
			return Session{}, errSessionExpired
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}

	switch subject.Kind {
	case store.SubjectUser:
		user, err := s.accounts.GetUserByID(ctx, subject.ID)
		if err != nil || !user.IsActive {
			return Session{}, errSessionExpired
		}
		return s.userSession(ctx, user)
	case store.SubjectAdmin:
		admin, err := s.accounts.GetAdminByID(ctx, subject.ID)
		if err != nil || !admin.IsActive {
			return Session{}, errSessionExpired
		}
		return s.adminSession(ctx, admin)
	default:
		return Session{}, errSessionExpired
	}
}

var errSessionExpired = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Session expired", nil)

func isMissing(err error) bool {
	return store.IsNotFound(err) || errors.Is(err, sessionstore.ErrNotFound)
}

func (s *Service) userSession(ctx context.Context, user store.User) (Session, error) {
	return s.issueSession(ctx, Session{
		Kind:      store.SubjectUser,
		AccountID: user.ID,
		Name:      user.FullName,
		Email:     user.Email,
	})
}

func (s *Service) adminSession(ctx context.Context, admin store.Admin) (Session, error) {
	return s.issueSession(ctx, Session{
		Kind:        store.SubjectAdmin,
		AccountID:   admin.ID,
		Name:        admin.FullName,
		Email:       admin.Email,
		Role:        string(rbac.Normalize(admin.Role)),
		Permissions: adminPermissions(admin),
	})
}

func (s *Service) issueSession(ctx context.Context, session Session) (Session, error) {
	claims := auth.NewClaims(session.Kind, session.AccountID, s.cfg.AccessTTL)
	claims.Name = session.Name
	claims.Role = session.Role
	claims.Permissions = session.Permissions

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}

	refresh := auth.NewOpaqueToken()
	subject := store.Subject{Kind: session.Kind, ID: session.AccountID}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), subject, time.Now().Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	session.Token = token
	session.RefreshToken = refresh
	session.JTI = claims.ID
	session.ExpiresAt = claims.ExpiresAt.Time
	return session, nil
}

// SessionFromToken validates an access token and reloads the account so a
// deactivated account or a changed admin role takes effect immediately.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	session := Session{
		Token:     token,
		Kind:      claims.Kind,
		AccountID: claims.AccountID(),
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	switch claims.Kind {
	case store.SubjectUser:
		user, err := s.accounts.GetUserByID(ctx, session.AccountID)
		if store.IsNotFound(err) || (err == nil && !user.IsActive) {
			return Session{}, auth.ErrInvalidToken
		}
		if err != nil {
			return Session{}, err
		}
		session.Name, session.Email = user.FullName, user.Email
	case store.SubjectAdmin:
		admin, err := s.accounts.GetAdminByID(ctx, session.AccountID)
		if store.IsNotFound(err) || (err == nil && !admin.IsActive) {
			return Session{}, auth.ErrInvalidToken
		}
		if err != nil {
			return Session{}, err
		}
		session.Name, session.Email = admin.FullName, admin.Email
		session.Role = string(rbac.Normalize(admin.Role))
		session.Permissions = adminPermissions(admin)
	default:
		return Session{}, auth.ErrInvalidToken
	}
	return session, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.log.WithError(err).Warn("revoke access token")
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.log.WithError(err).Warn("revoke refresh session")
		}
	}
	return nil
}

// adminPermissions prefers the permissions stored with the account and falls
// back to the role's defaults.
func adminPermissions(admin store.Admin) []string {
	role := rbac.Normalize(admin.Role)
	if role == rbac.RoleSuperAdmin || len(admin.Permissions) == 0 {
		return rbac.Permissions(role)
	}
	return admin.Permissions
}

// EntityInfo describes a registered entity to clients.
type EntityInfo struct {
	Type            lifecycle.EntityType `json:"type"`
	Path            string               `json:"path"`
	Statuses        []string             `json:"statuses"`
	UserSubmissions bool                 `json:"userSubmissions"`
	HardDelete      bool                 `json:"hardDelete"`
	Fields          []string             `json:"fields"`
}

func (s *Service) Entities() []EntityInfo {
	configs := s.engine.Registry().Configs()
	infos := make([]EntityInfo, 0, len(configs))
	for _, cfg := range configs {
		info := EntityInfo{
			Type:            cfg.Type,
			Path:            cfg.PublicPath,
			UserSubmissions: cfg.UserSubmissions,
			HardDelete:      cfg.HardDelete,
		}
		for _, status := range []lifecycle.Status{lifecycle.StatusPending, lifecycle.StatusLive, lifecycle.StatusRejected, lifecycle.StatusDisabled} {
			if word, ok := cfg.Vocabulary.Word(status); ok {
				info.Statuses = append(info.Statuses, word)
			}
		}
		for field := range cfg.Fields {
			info.Fields = append(info.Fields, field)
		}
		sort.Strings(info.Fields)
		infos = append(infos, info)
	}
	return infos
}

// ResolveEntity accepts an entity type ("press_release") or its public path
// segment ("press-releases").
func (s *Service) ResolveEntity(segment string) (lifecycle.EntityConfig, error) {
	registry := s.engine.Registry()
	if cfg, ok := registry.Lookup(lifecycle.EntityType(segment)); ok {
		return cfg, nil
	}
	for _, cfg := range registry.Configs() {
		if strings.Trim(cfg.PublicPath, "/") == segment {
			return cfg, nil
		}
	}
	return lifecycle.EntityConfig{}, &lifecycle.NotFoundError{Entity: lifecycle.EntityType(segment)}
}

func (s *Service) Create(ctx context.Context, entity lifecycle.EntityType, payload lifecycle.Payload, actor lifecycle.Actor) (lifecycle.Record, error) {
	return s.engine.Create(ctx, entity, payload, actor)
}

func (s *Service) Get(ctx context.Context, entity lifecycle.EntityType, id int64, actor lifecycle.Actor) (lifecycle.Record, error) {
	return s.engine.Get(ctx, entity, id, actor)
}

func (s *Service) Update(ctx context.Context, entity lifecycle.EntityType, id int64, payload lifecycle.Payload, actor lifecycle.Actor) (lifecycle.Record, error) {
	return s.engine.Update(ctx, entity, id, payload, actor)
}

// TransitionStatus applies approve, reject or disable.
func (s *Service) TransitionStatus(ctx context.Context, entity lifecycle.EntityType, id int64, action lifecycle.Action, actor lifecycle.Actor, in lifecycle.TransitionInput) (lifecycle.Record, error) {
	switch action {
	case lifecycle.ActionApprove, lifecycle.ActionReject, lifecycle.ActionDisable:
		return s.engine.Transition(ctx, entity, id, action, actor, in)
	default:
		return lifecycle.Record{}, unsupportedAction(action)
	}
}

func (s *Service) SoftDelete(ctx context.Context, entity lifecycle.EntityType, id int64, actor lifecycle.Actor) (lifecycle.Record, error) {
	return s.engine.SoftDelete(ctx, entity, id, actor)
}

func (s *Service) HardDelete(ctx context.Context, entity lifecycle.EntityType, id int64, actor lifecycle.Actor) (lifecycle.Record, error) {
	return s.engine.HardDelete(ctx, entity, id, actor)
}

// BulkRequest applies one action to many records. Payload is shared by every
// id of an update; Updates instead carries one payload per record and
// replaces IDs.
type BulkRequest struct {
	Action   lifecycle.Action
	IDs      []int64
	Reason   string
	Comments string
	Payload  lifecycle.Payload
	Updates  []BulkUpdate
}

type BulkUpdate struct {
	ID      int64
	Payload lifecycle.Payload
}

func (s *Service) BulkTransition(ctx context.Context, entity lifecycle.EntityType, req BulkRequest, actor lifecycle.Actor) (lifecycle.BulkResult, error) {
	if !actor.IsAdmin() {
		return lifecycle.BulkResult{}, &lifecycle.AccessDeniedError{Entity: entity, Action: req.Action}
	}
	shared := lifecycle.BulkInput{Payload: req.Payload, Reason: req.Reason, Comments: req.Comments}
	if len(req.Updates) == 0 {
		return s.engine.RunBulk(ctx, entity, req.IDs, req.Action, actor, func(int64) lifecycle.BulkInput {
			return shared
		})
	}

	perID, ids, err := splitUpdates(req)
	if err != nil {
		return lifecycle.BulkResult{}, err
	}
	return s.engine.RunBulk(ctx, entity, ids, req.Action, actor, func(id int64) lifecycle.BulkInput {
		return lifecycle.BulkInput{Payload: perID[id]}
	})
}

// splitUpdates indexes per-record payloads by id. Each id may appear once.
func splitUpdates(req BulkRequest) (map[int64]lifecycle.Payload, []int64, error) {
	var fields []lifecycle.FieldError
	if req.Action != lifecycle.ActionUpdate {
		fields = append(fields, lifecycle.FieldError{Field: "updates", Rule: "excluded_unless", Message: "only allowed with the update action"})
	}
	if len(req.IDs) > 0 || req.Payload != nil {
		fields = append(fields, lifecycle.FieldError{Field: "updates", Rule: "excluded_with", Message: "cannot be combined with ids or payload"})
	}
	perID := make(map[int64]lifecycle.Payload, len(req.Updates))
	ids := make([]int64, 0, len(req.Updates))
	for _, update := range req.Updates {
		if _, dup := perID[update.ID]; dup {
			fields = append(fields, lifecycle.FieldError{Field: "updates", Rule: "unique", Message: fmt.Sprintf("id %d appears more than once", update.ID)})
			continue
		}
		perID[update.ID] = update.Payload
		ids = append(ids, update.ID)
	}
	if len(fields) > 0 {
		return nil, nil, &lifecycle.ValidationError{Fields: fields}
	}
	return perID, ids, nil
}

// BulkCreate creates every item independently. Admins only.
func (s *Service) BulkCreate(ctx context.Context, entity lifecycle.EntityType, items []lifecycle.Payload, actor lifecycle.Actor) (lifecycle.BulkCreateResult, error) {
	if !actor.IsAdmin() {
		return lifecycle.BulkCreateResult{}, &lifecycle.AccessDeniedError{Entity: entity, Action: lifecycle.ActionCreate}
	}
	return s.engine.RunBulkCreate(ctx, entity, items, actor)
}

func (s *Service) List(ctx context.Context, entity lifecycle.EntityType, actor lifecycle.Actor, q lifecycle.ListQuery) (lifecycle.Page, error) {
	return s.engine.List(ctx, entity, actor, q)
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.catalog == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.catalog.Search(ctx, q)
}

// RegenerationRuns lists recent site rebuilds for admins.
func (s *Service) RegenerationRuns(ctx context.Context, actor lifecycle.Actor, limit int) ([]store.RegenerationRun, error) {
	if !actor.IsAdmin() || !actor.Has(rbac.PermViewSubmissions) {
		return nil, &lifecycle.AccessDeniedError{Action: lifecycle.ActionRead}
	}
	if s.runs == nil {
		return []store.RegenerationRun{}, nil
	}
	return s.runs.ListRegenerationRuns(ctx, limit)
}

const (
	defaultSiteCommits = 20
	maxSiteCommits     = 200
)

// SiteCommits lists the latest commits of the published site, newest first.
func (s *Service) SiteCommits(actor lifecycle.Actor, limit int) ([]gitrepo.Commit, error) {
	if !actor.IsAdmin() || !actor.Has(rbac.PermViewSubmissions) {
		return nil, &lifecycle.AccessDeniedError{Action: lifecycle.ActionRead}
	}
	if s.site == nil {
		return []gitrepo.Commit{}, nil
	}
	if limit <= 0 {
		limit = defaultSiteCommits
	}
	if limit > maxSiteCommits {
		limit = maxSiteCommits
	}
	commits, err := s.site.History(limit)
	if err != nil {
		return nil, &lifecycle.StorageError{Op: "site history", Err: err}
	}
	return commits, nil
}

var errSiteFileNotFound = domainError(http.StatusNotFound, "NOT_FOUND", "Site file not found", nil)

// SiteFile returns a published artifact as committed at the site head.
func (s *Service) SiteFile(actor lifecycle.Actor, path string) ([]byte, error) {
	if !actor.IsAdmin() || !actor.Has(rbac.PermViewSubmissions) {
		return nil, &lifecycle.AccessDeniedError{Action: lifecycle.ActionRead}
	}
	if s.site == nil {
		return nil, errSiteFileNotFound
	}
	data, err := s.site.ReadFile(path)
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, gitrepo.ErrInvalidPath):
		return nil, &lifecycle.ValidationError{Fields: []lifecycle.FieldError{{Field: "path", Rule: "filepath", Message: "must name a file inside the site"}}}
	case errors.Is(err, gitrepo.ErrNoCommits), errors.Is(err, gitrepo.ErrFileNotFound):
		return nil, errSiteFileNotFound
	default:
		return nil, &lifecycle.StorageError{Op: "read site file", Err: err}
	}
}

func unsupportedAction(action lifecycle.Action) error {
	return &lifecycle.ValidationError{Fields: []lifecycle.FieldError{{
		Field:   "action",
		Rule:    "oneof",
		Message: "unsupported action " + string(action),
	}}}
}
