package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	cases := []struct {
		level    string
		expDebug bool
	}{
		{"debug", true},
		{"info", false},
		{"invalid", false},
	}

	for _, c := range cases {
		log, err := New(c.level)
		if err != nil {
			t.Fatalf("[%s] Failed to create logger: %v", c.level, err)
		}
		if got := log.Core().Enabled(zap.DebugLevel); got != c.expDebug {
			t.Errorf("[%s] Expected: %v, got: %v", c.level, c.expDebug, got)
		}
	}
}

func TestGin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)

	r := gin.New()
	r.Use(Gin(zap.New(core)))
	r.GET("/login", func(c *gin.Context) { c.Status(http.StatusTeapot) })
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/login?ple_key=secret", nil))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got: %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["path"] != "/login" {
		t.Errorf("Expected: %v, got: %v", "/login", fields["path"])
	}
	if fields["status"] != int64(http.StatusTeapot) {
		t.Errorf("Expected: %v, got: %v", http.StatusTeapot, fields["status"])
	}
}
