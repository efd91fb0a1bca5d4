package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordLockAcquisition(t *testing.T) {
	before := testutil.ToFloat64(LockAcquisitions.WithLabelValues("credential-pool", "granted"))

	RecordLockAcquisition("credential-pool", "granted")

	after := testutil.ToFloat64(LockAcquisitions.WithLabelValues("credential-pool", "granted"))
	if after != before+1 {
		t.Errorf("expected counter to increase by 1, got %f -> %f", before, after)
	}
}

func TestSetCredentialsByHealth(t *testing.T) {
	SetCredentialsByHealth("healthy", 3)

	got := testutil.ToFloat64(CredentialsByHealth.WithLabelValues("healthy"))
	if got != 3 {
		t.Errorf("expected gauge 3, got %f", got)
	}
}

func TestSetActiveLeases(t *testing.T) {
	SetActiveLeases(7)

	got := testutil.ToFloat64(ActiveLeases)
	if got != 7 {
		t.Errorf("expected gauge 7, got %f", got)
	}
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterMetricsEndpoint(router)

	RecordLeaseReaped()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "leases_reaped_total") {
		t.Error("expected metrics output to contain leases_reaped_total")
	}
}
