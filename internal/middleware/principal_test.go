package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"fieldsync-server/internal/auth"
	"fieldsync-server/internal/model"
)

func testTokenConfig() auth.TokenConfig {
	return auth.DefaultTokenConfig("test-secret")
}

func principalRouter(cfg auth.TokenConfig, require bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := []gin.HandlerFunc{AttachPrincipal(cfg)}
	if require {
		handlers = append(handlers, RequirePrincipal())
	}
	handlers = append(handlers, func(c *gin.Context) {
		p := PrincipalFromContext(c)
		c.JSON(http.StatusOK, gin.H{
			"id":            p.ID,
			"login":         p.Login,
			"authorized":    p.IsAuthorized,
			"authorizeTime": AuthorizeTimeFromContext(c),
		})
	})
	r.GET("/whoami", handlers...)
	return r
}

func TestAttachPrincipalAnonymousPassthrough(t *testing.T) {
	r := principalRouter(testTokenConfig(), false)

	for _, header := range []string{"", "Basic abc", "Bearer not-a-token"} {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 for header %q, got %d", header, w.Code)
		}
		body := w.Body.String()
		if !strings.Contains(body, `"authorized":false`) || !strings.Contains(body, `"id":-1`) {
			t.Fatalf("expected anonymous principal for header %q, got %s", header, body)
		}
	}
}

func TestAttachPrincipalResolvesToken(t *testing.T) {
	cfg := testTokenConfig()
	token, err := auth.CreateToken(model.UserRecord{ID: 7, Login: "inspector"}, ".inspector.", cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	r := principalRouter(cfg, false)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"authorized":true`) || !strings.Contains(body, `"login":"inspector"`) {
		t.Fatalf("expected authorized principal, got %s", body)
	}
}

func TestRequirePrincipalAbortsAnonymous(t *testing.T) {
	r := principalRouter(testTokenConfig(), true)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Invalid authentication token") {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestRequirePrincipalAllowsAuthenticated(t *testing.T) {
	cfg := testTokenConfig()
	token, err := auth.CreateToken(model.UserRecord{ID: 7, Login: "inspector"}, "", cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	r := principalRouter(cfg, true)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
