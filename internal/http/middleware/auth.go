package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/edgeward/fleet-backend/internal/http/response"
	"github.com/edgeward/fleet-backend/internal/platform/ctxutil"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

const (
	HeaderTenantID = "X-Tenant-Id"
	HeaderActor    = "X-Actor"
)

// OperatorClaims is the bearer token payload for operator requests.
type OperatorClaims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

type AuthMiddleware struct {
	log    *logger.Logger
	secret []byte
}

// NewAuthMiddleware verifies HS256 bearer tokens when secret is set. Without
// a secret the tenant is taken from the X-Tenant-Id header.
func NewAuthMiddleware(log *logger.Logger, secret string) *AuthMiddleware {
	middlewareLogger := log.With("Middleware", "AuthMiddleware")
	return &AuthMiddleware{log: middlewareLogger, secret: []byte(strings.TrimSpace(secret))}
}

func (am *AuthMiddleware) RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			rd  *ctxutil.RequestData
			err error
		)
		if len(am.secret) > 0 {
			rd, err = am.fromToken(extractBearer(c))
		} else {
			rd, err = fromHeaders(c)
		}
		if err != nil {
			am.log.Debug("rejecting operator request", "error", err)
			response.Abort(c, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		c.Request = c.Request.WithContext(ctxutil.WithRequestData(c.Request.Context(), rd))
		c.Next()
	}
}

func (am *AuthMiddleware) fromToken(tokenString string) (*ctxutil.RequestData, error) {
	if tokenString == "" {
		return nil, errors.New("missing or invalid token")
	}
	claims := &OperatorClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	tok, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return am.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, errors.New("invalid or expired token")
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil || tenantID == uuid.Nil {
		return nil, errors.New("token has no tenant_id")
	}
	return &ctxutil.RequestData{TenantID: tenantID, Actor: claims.Subject}, nil
}

func fromHeaders(c *gin.Context) (*ctxutil.RequestData, error) {
	raw := strings.TrimSpace(c.GetHeader(HeaderTenantID))
	if raw == "" {
		return nil, fmt.Errorf("missing %s header", HeaderTenantID)
	}
	tenantID, err := uuid.Parse(raw)
	if err != nil || tenantID == uuid.Nil {
		return nil, fmt.Errorf("invalid %s header", HeaderTenantID)
	}
	return &ctxutil.RequestData{TenantID: tenantID, Actor: strings.TrimSpace(c.GetHeader(HeaderActor))}, nil
}

func extractBearer(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

// SignOperatorToken issues a token accepted by RequireTenant.
func SignOperatorToken(secret string, tenantID uuid.UUID, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := OperatorClaims{
		TenantID: tenantID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
