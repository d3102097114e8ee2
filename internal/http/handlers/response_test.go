package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-payments-backend/internal/http/middleware"
)

func Test_fail_500_LogsWithRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r.Use(middleware.RequestID(), func(c *gin.Context) {
		c.Set("logger", &logger)
		c.Next()
	})
	r.GET("/boom", func(c *gin.Context) {
		fail(c, http.StatusInternalServerError, ErrCodeQueryFailed, "provider unreachable")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set("X-Request-ID", "rid-500")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.RequestID != "rid-500" || resp.Code != ErrCodeQueryFailed || resp.Message != "provider unreachable" {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) || !strings.Contains(buf.String(), `"path":"/boom"`) {
		t.Fatalf("expected error log with path, got: %s", buf.String())
	}
}

func Test_Fail_4xx_NotLogged_HeaderFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-404")
		c.Set("logger", &logger)
		c.Next()
	})
	r.GET("/missing", func(c *gin.Context) {
		Fail(c, http.StatusNotFound, ErrCodeNotFound, "transaction not found")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json 404: %v", err)
	}
	if er.RequestID != "rid-404" || er.Code != ErrCodeNotFound {
		t.Fatalf("unexpected 404 body: %+v", er)
	}
	if buf.Len() != 0 {
		t.Fatalf("4xx should not be logged here, got: %s", buf.String())
	}
}

func Test_rejectPayment_DefaultsMessage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for _, tc := range []struct{ in, want string }{
		{"Invalid Access Token", "Invalid Access Token"},
		{"", "payment request failed"},
	} {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
		rejectPayment(c, tc.in)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", w.Code)
		}
		var body STKPushResponse
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("json: %v", err)
		}
		if body.Success || body.Error != tc.want {
			t.Fatalf("rejectPayment(%q) body = %+v", tc.in, body)
		}
	}
}

func Test_ack_SkipsWhenAlreadyWritten(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	ack(c, 0, "Success")
	ack(c, 1, "Processing failed")

	var body CallbackAck
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v (body=%s)", err, w.Body.String())
	}
	if w.Code != http.StatusOK || body.ResultCode != 0 || body.ResultDesc != "Success" {
		t.Fatalf("unexpected ack: %d %+v", w.Code, body)
	}
}

func Test_notModified(t *testing.T) {
	gin.SetMode(gin.TestMode)
	const etag = `W/"abc"`
	cases := []struct {
		inm  string
		want bool
	}{
		{"", false},
		{`W/"abc"`, true},
		{`"abc"`, true},
		{`"zzz", W/"abc"`, true},
		{"*", true},
		{`"zzz"`, false},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.inm != "" {
			c.Request.Header.Set("If-None-Match", tc.inm)
		}
		got := notModified(c, etag)
		c.Writer.WriteHeaderNow()
		if got != tc.want {
			t.Fatalf("If-None-Match %q: got %v want %v", tc.inm, got, tc.want)
		}
		if w.Header().Get("ETag") != etag {
			t.Fatalf("ETag header not set for %q", tc.inm)
		}
		if got && w.Code != http.StatusNotModified {
			t.Fatalf("expected 304 for %q, got %d", tc.inm, w.Code)
		}
	}
}
