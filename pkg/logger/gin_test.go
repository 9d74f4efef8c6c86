package logger

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMiddleware_EchoesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	r := gin.New()
	r.Use(Middleware(NewWithWriter("dev", &buf)))
	r.GET("/x", func(c *gin.Context) {
		FromGin(c).Info("inside")
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "rid-1")
	r.ServeHTTP(w, req)

	if got := w.Header().Get(headerRequestID); got != "rid-1" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
	if !strings.Contains(buf.String(), `"request_id":"rid-1"`) {
		t.Fatalf("expected request id in log output: %s", buf.String())
	}
}

func TestMiddleware_TagsWebhookCallSid(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	r := gin.New()
	r.Use(Middleware(NewWithWriter("dev", &buf)))
	r.POST("/webhooks/voice/incoming", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/voice/incoming", strings.NewReader("CallSid=CA1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.ServeHTTP(w, req)

	if !strings.Contains(buf.String(), `"call_sid":"CA1"`) {
		t.Fatalf("expected call_sid in log output: %s", buf.String())
	}
}
