package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/zulandar/conductor/internal/audit"
	"github.com/zulandar/conductor/internal/models"
)

// Claims identify a caller within one project. The subject is the user name.
type Claims struct {
	ProjectID uint   `json:"project_id"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// Caller is the authenticated identity of a request.
type Caller struct {
	Name      string
	Role      string
	ProjectID uint
}

// Actor converts the caller for audit entries.
func (c Caller) Actor() audit.Actor {
	return audit.Actor{Name: c.Name, Role: c.Role}
}

// Auth issues and verifies caller tokens.
type Auth struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func (a Auth) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Issue signs a token for name acting as role in the project.
func (a Auth) Issue(projectID uint, name, role string) (string, time.Time, error) {
	if len(a.Secret) == 0 {
		return "", time.Time{}, errors.New("server: jwt secret not configured")
	}
	ttl := a.TTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	now := a.now()
	expires := now.Add(ttl)
	claims := Claims{
		ProjectID: projectID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("server: sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies a token and returns the caller it names.
func (a Auth) Parse(token string) (Caller, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.Secret, nil
	})
	if err != nil {
		return Caller{}, err
	}
	if !parsed.Valid {
		return Caller{}, errors.New("invalid token")
	}
	if claims.Subject == "" || claims.Role == "" || claims.ProjectID == 0 {
		return Caller{}, errors.New("token is missing identity claims")
	}
	return Caller{Name: claims.Subject, Role: claims.Role, ProjectID: claims.ProjectID}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

const (
	callerKey  = "caller"
	projectKey = "project"
)

// authenticate requires a valid token in the Authorization header. The
// websocket endpoint may pass it as ?token= instead, since browsers cannot
// set headers on upgrade requests.
func authenticate(a Auth) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		caller, err := a.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerOf(c *gin.Context) Caller {
	v, _ := c.Get(callerKey)
	caller, _ := v.(Caller)
	return caller
}

func projectOf(c *gin.Context) *models.Project {
	v, _ := c.Get(projectKey)
	p, _ := v.(*models.Project)
	return p
}

func isManager(c *gin.Context) bool {
	p := projectOf(c)
	return p != nil && callerOf(c).Role == p.ManagerRole
}

// requireManager rejects callers that are not the project's manager role.
func requireManager() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isManager(c) {
			respondError(c, fmt.Errorf("manager role required: %w", ErrForbidden))
			c.Abort()
			return
		}
		c.Next()
	}
}
