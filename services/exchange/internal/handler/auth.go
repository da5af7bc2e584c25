package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Role 호출자 역할
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

const (
	ctxActorID = "actorId"
	ctxRole    = "role"
)

// Claims 토큰 클레임. 행위자 ID 는 subject
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator HS256 bearer 토큰 발급/검증
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewAuthenticator 인증기 생성
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// IssueToken 행위자 토큰 발급
func (a *Authenticator) IssueToken(actorID string, role Role, ttl time.Duration) (string, error) {
	if actorID == "" {
		return "", errors.New("actor id is required")
	}
	if role != RoleCustomer && role != RoleAdmin {
		return "", errors.New("unknown role: " + string(role))
	}

	now := a.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse 토큰 검증 후 클레임 반환
func (a *Authenticator) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// Middleware Bearer 토큰을 검증하고 행위자/역할을 컨텍스트에 저장
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error: "authorization header required (Bearer <token>)",
				Code:  "UNAUTHORIZED",
			})
			return
		}

		claims, err := a.Parse(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error: "invalid or expired token",
				Code:  "UNAUTHORIZED",
			})
			return
		}

		c.Set(ctxActorID, claims.Subject)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// RequireRole 허용된 역할만 통과
func RequireRole(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := roleOf(c)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
			Error: "access denied for role " + string(role),
			Code:  "FORBIDDEN",
		})
	}
}

func actorOf(c *gin.Context) string {
	return c.GetString(ctxActorID)
}

func roleOf(c *gin.Context) Role {
	v, _ := c.Get(ctxRole)
	role, _ := v.(Role)
	return role
}

func isAdmin(c *gin.Context) bool {
	return roleOf(c) == RoleAdmin
}
