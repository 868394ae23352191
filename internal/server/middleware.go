package server

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	auditdomain "github.com/smallbiznis/gigpay/internal/audit/domain"
	"github.com/smallbiznis/gigpay/internal/auditcontext"
	"github.com/smallbiznis/gigpay/internal/identity"
	obscontext "github.com/smallbiznis/gigpay/internal/observability/context"
	obsmiddleware "github.com/smallbiznis/gigpay/internal/observability/logger"
)

const contextActorKey = "actor"

// tokenClaims is the bearer token issued by the auth collaborator.
type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthRequired trusts an HS256 bearer token and stores its actor on the request.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := s.authenticate(c.GetHeader("Authorization"))
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextActorKey, actor)
		c.Set(obsmiddleware.ContextActorRefKey, actor.Ref)

		ctx := obscontext.WithActor(c.Request.Context(), string(actor.Role), actor.Ref)
		ctx = auditcontext.WithActor(ctx, string(auditActorType(actor)), actor.Ref)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) authenticate(header string) (identity.Actor, error) {
	raw := strings.TrimSpace(header)
	scheme, token, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return identity.Actor{}, ErrUnauthorized
	}
	secret := strings.TrimSpace(s.cfg.AuthJWTSecret)
	if secret == "" {
		return identity.Actor{}, ErrUnauthorized
	}

	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return identity.Actor{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	role, err := identity.ParseRole(claims.Role)
	if err != nil {
		return identity.Actor{}, ErrUnauthorized
	}
	actor := identity.Actor{Ref: strings.TrimSpace(claims.Subject), Role: role}
	if !actor.Valid() {
		return identity.Actor{}, ErrUnauthorized
	}
	return actor, nil
}

func actorFromContext(c *gin.Context) (identity.Actor, bool) {
	value, ok := c.Get(contextActorKey)
	if !ok {
		return identity.Actor{}, false
	}
	actor, ok := value.(identity.Actor)
	return actor, ok && actor.Valid()
}

func auditActorType(actor identity.Actor) auditdomain.ActorType {
	if actor.Role == identity.RoleSystem {
		return auditdomain.ActorTypeSystem
	}
	return auditdomain.ActorTypeUser
}
