package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsValidID(t *testing.T) {
	valid := []string{
		"esc_0123456789abcdef01234567",
		"pay_aaaaaaaaaaaaaaaaaaaaaaaa",
		"flg_00ff00ff00ff00ff00ff00ff",
	}
	for _, id := range valid {
		if !IsValidID(id) {
			t.Errorf("IsValidID(%q) = false, want true", id)
		}
	}

	invalid := []string{
		"",
		"esc_short",
		"0123456789abcdef01234567",
		"toolong_0123456789abcdef01234567",
		"esc_0123456789ABCDEF01234567",
		"esc_0123456789abcdef0123456z",
	}
	for _, id := range invalid {
		if IsValidID(id) {
			t.Errorf("IsValidID(%q) = true, want false", id)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  note \x00text  ", 100); got != "note text" {
		t.Errorf("got %q, want %q", got, "note text")
	}
	if got := SanitizeString(strings.Repeat("a", 20), 5); got != "aaaaa" {
		t.Errorf("truncation: got %q", got)
	}
}

func TestIDParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/things/:id", IDParamMiddleware(), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/things/esc_0123456789abcdef01234567", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("well-formed id: status = %d, want 200", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/things/not-an-id", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed id: status = %d, want 400", w.Code)
	}
}
