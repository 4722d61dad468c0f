package auth

import (
	"context"
)

type Kind int

const (
	KindAnonymous Kind = iota
	KindAdmin
	KindUser
	KindMobile
)

func (k Kind) String() string {
	switch k {
	case KindAdmin:
		return "admin"
	case KindUser:
		return "user"
	case KindMobile:
		return "mobile"
	default:
		return "anonymous"
	}
}

const (
	PrivilegeCollector  = 0
	PrivilegeSupervisor = 1
	PrivilegeAdmin      = 2
)

// AuthContext is the caller identity resolved once per request. Only Admin
// callers and users with admin privilege have global access; every other
// caller is limited to Sites.
type AuthContext struct {
	Kind      Kind
	UserID    *int64
	Privilege int
	Sites     []int64
}

func Anonymous() AuthContext {
	return AuthContext{Kind: KindAnonymous}
}

func Admin() AuthContext {
	return AuthContext{Kind: KindAdmin}
}

func Mobile() AuthContext {
	return AuthContext{Kind: KindMobile}
}

func User(id int64, privilege int, sites []int64) AuthContext {
	return AuthContext{Kind: KindUser, UserID: &id, Privilege: privilege, Sites: sites}
}

func (a AuthContext) IsGlobal() bool {
	return a.Kind == KindAdmin || (a.Kind == KindUser && a.Privilege >= PrivilegeAdmin)
}

func (a AuthContext) Authenticated() bool {
	return a.Kind != KindAnonymous
}

// SiteScope returns nil for global callers and the (possibly empty) allowed
// site list otherwise.
func (a AuthContext) SiteScope() []int64 {
	if a.IsGlobal() {
		return nil
	}
	if a.Sites == nil {
		return []int64{}
	}
	return a.Sites
}

func (a AuthContext) CanAccessSite(siteID int64) bool {
	if a.IsGlobal() {
		return true
	}
	for _, id := range a.Sites {
		if id == siteID {
			return true
		}
	}
	return false
}

type contextKey struct{}

func WithContext(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) AuthContext {
	if ac, ok := ctx.Value(contextKey{}).(AuthContext); ok {
		return ac
	}
	return Anonymous()
}
