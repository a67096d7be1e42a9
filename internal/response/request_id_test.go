package response

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	serve := func(inbound string) string {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if inbound != "" {
			req.Header.Set("X-Request-ID", inbound)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Header().Get("X-Request-ID")
	}

	t.Run("generates when absent", func(t *testing.T) {
		got := serve("")
		if _, err := uuid.Parse(got); err != nil {
			t.Fatalf("generated id %q is not a uuid: %v", got, err)
		}
	})

	t.Run("honors a well-formed id", func(t *testing.T) {
		id := uuid.New().String()
		if got := serve(id); got != id {
			t.Fatalf("id = %q, want %q", got, id)
		}
	})

	t.Run("replaces a malformed id", func(t *testing.T) {
		got := serve("not-a-uuid")
		if got == "not-a-uuid" {
			t.Fatal("malformed inbound id passed through")
		}
		if _, err := uuid.Parse(got); err != nil {
			t.Fatalf("replacement id %q is not a uuid: %v", got, err)
		}
	})
}
