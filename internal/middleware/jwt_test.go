package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkgrade/inkgrade-backend/internal/config"
	"github.com/inkgrade/inkgrade-backend/internal/service"
)

func newTestAuth(t *testing.T) *service.AuthService {
	t.Helper()
	return service.NewAuthService(&config.Config{
		JWTSecret:        "middleware-test-secret",
		JWTExpiry:        time.Hour,
		JWTRefreshExpiry: 24 * time.Hour,
	}, nil, nil)
}

func newProtectedRouter(auth *service.AuthService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	echoUserID := func(c *gin.Context) {
		claims := GetClaims(c)
		c.JSON(http.StatusOK, gin.H{"user_id": claims.UserID})
	}

	r.GET("/student", RequireStudentJWT(auth), echoUserID)
	r.GET("/teacher", RequireTeacherJWT(auth), echoUserID)
	r.GET("/ws", RequireTeacherWSAuth(auth), echoUserID)
	return r
}

func doGet(r *gin.Engine, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireJWTAcceptsMatchingRole(t *testing.T) {
	auth := newTestAuth(t)
	r := newProtectedRouter(auth)

	student, err := auth.GenerateTokenPair(11, service.RoleStudent)
	require.NoError(t, err)
	teacher, err := auth.GenerateTokenPair(22, service.RoleTeacher)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, doGet(r, "/student", student.AccessToken).Code)
	assert.Equal(t, http.StatusOK, doGet(r, "/teacher", teacher.AccessToken).Code)
}

func TestRequireJWTRejectsMissingOrGarbageToken(t *testing.T) {
	r := newProtectedRouter(newTestAuth(t))

	assert.Equal(t, http.StatusUnauthorized, doGet(r, "/student", "").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "/student", "not-a-jwt").Code)
}

func TestRequireJWTRejectsWrongRole(t *testing.T) {
	auth := newTestAuth(t)
	r := newProtectedRouter(auth)

	student, err := auth.GenerateTokenPair(11, service.RoleStudent)
	require.NoError(t, err)
	teacher, err := auth.GenerateTokenPair(22, service.RoleTeacher)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, doGet(r, "/teacher", student.AccessToken).Code)
	assert.Equal(t, http.StatusForbidden, doGet(r, "/student", teacher.AccessToken).Code)
}

func TestRequireJWTRejectsRefreshToken(t *testing.T) {
	auth := newTestAuth(t)
	r := newProtectedRouter(auth)

	pair, err := auth.GenerateTokenPair(11, service.RoleStudent)
	require.NoError(t, err)

	// Refresh tokens only open /auth/refresh, never resources.
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "/student", pair.RefreshToken).Code)
}

func TestRequireTeacherWSAuthReadsQueryParam(t *testing.T) {
	auth := newTestAuth(t)
	r := newProtectedRouter(auth)

	teacher, err := auth.GenerateTokenPair(22, service.RoleTeacher)
	require.NoError(t, err)
	student, err := auth.GenerateTokenPair(11, service.RoleStudent)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, doGet(r, "/ws?token="+teacher.AccessToken, "").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "/ws", "").Code)
	assert.Equal(t, http.StatusForbidden, doGet(r, "/ws?token="+student.AccessToken, "").Code)

	// The header is deliberately ignored on the WS route.
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "/ws", teacher.AccessToken).Code)
}
