package auth

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/vectorwatch/platform/pkg/common/logger"
)

// SiteLister loads the sites a non-admin user may access.
type SiteLister interface {
	SitesForUser(ctx context.Context, userID int64) ([]int64, error)
}

// Resolver turns an Authorization header into an AuthContext. It is the only
// place that inspects token formats.
type Resolver struct {
	adminToken  string
	mobileToken string
	tokens      *TokenManager
	sites       SiteLister
}

func NewResolver(adminToken, mobileToken string, tokens *TokenManager, sites SiteLister) *Resolver {
	return &Resolver{
		adminToken:  adminToken,
		mobileToken: mobileToken,
		tokens:      tokens,
		sites:       sites,
	}
}

func (r *Resolver) Resolve(ctx context.Context, header string) AuthContext {
	token := strings.TrimSpace(header)
	if len(token) > 7 && strings.EqualFold(token[:7], "Bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		return Anonymous()
	}

	if constantEqual(token, r.adminToken) {
		return Admin()
	}
	if constantEqual(token, r.mobileToken) {
		return Mobile()
	}
	if r.tokens == nil {
		return Anonymous()
	}

	claims, err := r.tokens.ParseToken(token)
	if err != nil {
		logger.Log.WithError(err).Debug("rejected bearer token")
		return Anonymous()
	}

	ac := User(claims.UserID, claims.Privilege, nil)
	if ac.IsGlobal() || r.sites == nil {
		return ac
	}
	sites, err := r.sites.SitesForUser(ctx, claims.UserID)
	if err != nil {
		logger.Log.WithError(err).WithField("user_id", claims.UserID).Error("failed to load user sites")
		return Anonymous()
	}
	ac.Sites = sites
	return ac
}

func constantEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
