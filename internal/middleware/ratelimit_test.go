package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRateLimiterBlocksBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(3, time.Minute)
	r := gin.New()
	r.POST("/start", rl.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/start", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/start", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("burst overflow status = %d, want 429", w.Code)
	}
}
