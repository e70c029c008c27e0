package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/onionchat/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("GET", "/health", 200, 12*time.Millisecond)
	RecordConnReaped(true)
	RecordMessage("ping", OutcomeExecuted)
	RecordProxyRestart()
	SetProxyUp(false)
}

func TestConnGaugeTracksOpenAndClose(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(connsLive.WithLabelValues("test_dir"))
	RecordConnOpened("test_dir")
	RecordConnOpened("test_dir")
	RecordConnClosed("test_dir", true)
	RecordConnClosed("test_dir", false)
	if got := testutil.ToFloat64(connsLive.WithLabelValues("test_dir")); got != before+1 {
		t.Fatalf("unexpected live gauge: got=%v want=%v", got, before+1)
	}
	if got := testutil.ToFloat64(connClosed.WithLabelValues("test_dir")); got != 2 {
		t.Fatalf("unexpected closed count: %v", got)
	}
}

func TestProxyUpGauge(t *testing.T) {
	testlog.Start(t)
	SetProxyUp(true)
	if got := testutil.ToFloat64(proxyUp); got != 1 {
		t.Fatalf("expected proxy_up=1, got %v", got)
	}
	SetProxyUp(false)
	if got := testutil.ToFloat64(proxyUp); got != 0 {
		t.Fatalf("expected proxy_up=0, got %v", got)
	}
}

func newAccessRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AccessLog(log.Logger, "/health"))
	r.GET("/buddies", func(c *gin.Context) { c.String(http.StatusOK, "id="+RequestID(c)) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestAccessLogRecordsMatchedRoute(t *testing.T) {
	testlog.Start(t)
	r := newAccessRouter()

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/buddies", "200"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/buddies", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected response: %d %q", w.Code, w.Body.String())
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/buddies", "200")); got != before+1 {
		t.Fatalf("request not recorded: got=%v want=%v", got, before+1)
	}

	unmatched := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "unmatched", "404"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/no/such/route", nil))
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "unmatched", "404")); got != unmatched+1 {
		t.Fatalf("unmatched route not folded: got=%v want=%v", got, unmatched+1)
	}
}

func TestAccessLogRequestIDs(t *testing.T) {
	testlog.Start(t)
	r := newAccessRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/buddies", nil))
	minted := w.Header().Get(RequestIDHeader)
	if _, err := uuid.Parse(minted); err != nil {
		t.Fatalf("expected minted uuid, got %q", minted)
	}
	if w.Body.String() != "id="+minted {
		t.Fatalf("handler saw a different id: %q", w.Body.String())
	}

	incoming := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, incoming)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); got != incoming {
		t.Fatalf("expected incoming id %q kept, got %q", incoming, got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	got := w.Header().Get(RequestIDHeader)
	if _, err := uuid.Parse(got); err != nil || got == "not-a-uuid" {
		t.Fatalf("expected replaced id, got %q", got)
	}
}
