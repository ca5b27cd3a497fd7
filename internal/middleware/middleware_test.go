package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gaslight/leakview/internal/auth"
)

func newRouter(svc *auth.JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Logger(zap.NewNop()), CORS("http://localhost:5173"))
	r.GET("/sessions/:id", JWT(svc), func(c *gin.Context) {
		c.String(http.StatusOK, SessionID(c).String())
	})
	return r
}

func TestJWTScopesTokenToSession(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := newRouter(svc)
	id := uuid.New()
	tok, err := svc.Generate(id)
	require.NoError(t, err)

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing header", "/sessions/" + id.String(), "", http.StatusUnauthorized},
		{"wrong scheme", "/sessions/" + id.String(), "Basic " + tok, http.StatusUnauthorized},
		{"bad token", "/sessions/" + id.String(), "Bearer nope", http.StatusUnauthorized},
		{"other session", "/sessions/" + uuid.NewString(), "Bearer " + tok, http.StatusForbidden},
		{"bad id", "/sessions/xyz", "Bearer " + tok, http.StatusBadRequest},
		{"granted", "/sessions/" + id.String(), "Bearer " + tok, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
			if tc.want == http.StatusOK {
				assert.Equal(t, id.String(), w.Body.String())
			}
		})
	}
}

func TestCORS(t *testing.T) {
	r := newRouter(auth.NewJWTService("secret", 1))

	req := httptest.NewRequest(http.MethodOptions, "/sessions/x", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/sessions/x", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSOriginList(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS(" http://a.example, ,http://b.example "))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	for origin, want := range map[string]string{
		"http://a.example": "http://a.example",
		"http://b.example": "http://b.example",
		"http://c.example": "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Header().Get("Access-Control-Allow-Origin"), origin)
	}

	w := httptest.NewRecorder()
	r2 := gin.New()
	r2.Use(CORS(" , "))
	r2.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	r2.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
