package validator

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loginBody struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

func bindJSON(t *testing.T, body string, dst interface{}) map[string]string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return Bind(c, dst)
}

func TestBindValidBody(t *testing.T) {
	Setup()

	var dst loginBody
	fields := bindJSON(t, `{"username":"andi","password":"long-enough"}`, &dst)

	require.Nil(t, fields)
	assert.Equal(t, "andi", dst.Username)
	assert.Equal(t, "long-enough", dst.Password)
}

func TestBindReportsJSONFieldNames(t *testing.T) {
	Setup()

	var dst loginBody
	fields := bindJSON(t, `{"password":"short"}`, &dst)

	require.NotNil(t, fields)
	// Keys come from the json tag, not the Go field name.
	assert.Contains(t, fields, "username")
	assert.Contains(t, fields, "password")
	assert.NotContains(t, fields, "Username")
	assert.Contains(t, fields["username"], "required")
}

func TestBindMalformedJSON(t *testing.T) {
	Setup()

	var dst loginBody
	fields := bindJSON(t, `{"username":`, &dst)

	require.NotNil(t, fields)
	assert.Contains(t, fields, "body")
}
