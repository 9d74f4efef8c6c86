package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"leasing-telephony/internal/auth"
)

func serve(t *testing.T, path, role string, teamIDs []string, chain ...gin.HandlerFunc) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	handlers := []gin.HandlerFunc{func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u", teamIDs, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}}
	handlers = append(handlers, chain...)
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/teams/:id", handlers...)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w.Code
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	if code := serve(t, "/teams/t1", RoleAdmin, nil, RequireAnyRole(RoleSupervisor)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_HiddenRoleDeniedUnlessAllowed(t *testing.T) {
	if code := serve(t, "/teams/t1", RoleCarrierSupport, nil, RequireAnyRole(RoleSupervisor)); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serve(t, "/teams/t1", RoleCarrierSupport, nil, RequireAnyRole(RoleSupervisor, RoleCarrierSupport)); code != http.StatusOK {
		t.Fatalf("expected 200 when named, got %d", code)
	}
}

func TestRequireAnyRole_RoleRequired(t *testing.T) {
	if code := serve(t, "/teams/t1", "", nil, RequireAnyRole(RoleAgent)); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestRequireTeamMember(t *testing.T) {
	if code := serve(t, "/teams/t1", RoleAgent, []string{"t1"}, RequireTeamMember("id")); code != http.StatusOK {
		t.Fatalf("expected member admitted, got %d", code)
	}
	if code := serve(t, "/teams/t2", RoleAgent, []string{"t1"}, RequireTeamMember("id")); code != http.StatusForbidden {
		t.Fatalf("expected non-member rejected, got %d", code)
	}
	if code := serve(t, "/teams/t2", RoleSupervisor, nil, RequireTeamMember("id")); code != http.StatusOK {
		t.Fatalf("expected supervisor admitted, got %d", code)
	}
}
