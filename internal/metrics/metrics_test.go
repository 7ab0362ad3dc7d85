package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordListing(t *testing.T) {
	before := testutil.ToFloat64(listingRequestsTotal.WithLabelValues("cursor", "success"))
	RecordListing(true, true)
	RecordListing(true, true)
	after := testutil.ToFloat64(listingRequestsTotal.WithLabelValues("cursor", "success"))
	if after-before != 2 {
		t.Errorf("Expected 2 cursor listings recorded, got %v", after-before)
	}
}

func TestRecordAPIRequest_CountsThrottles(t *testing.T) {
	before := testutil.ToFloat64(apiThrottledTotal.WithLabelValues("read"))
	RecordAPIRequest("read", 200)
	RecordAPIRequest("read", 429)
	if got := testutil.ToFloat64(apiThrottledTotal.WithLabelValues("read")) - before; got != 1 {
		t.Errorf("Expected 1 throttled request, got %v", got)
	}
}

func TestRecordUpload(t *testing.T) {
	okBefore := testutil.ToFloat64(uploadsTotal.WithLabelValues("success"))
	rejBefore := testutil.ToFloat64(uploadsTotal.WithLabelValues("rejected"))
	bytesBefore := testutil.ToFloat64(uploadBytes)

	RecordUpload(100, true)
	RecordUpload(50, false)
	RecordUploadRejected()

	if got := testutil.ToFloat64(uploadsTotal.WithLabelValues("success")) - okBefore; got != 1 {
		t.Errorf("Expected 1 successful upload, got %v", got)
	}
	if got := testutil.ToFloat64(uploadsTotal.WithLabelValues("rejected")) - rejBefore; got != 1 {
		t.Errorf("Expected 1 rejected upload, got %v", got)
	}
	if got := testutil.ToFloat64(uploadBytes) - bytesBefore; got != 100 {
		t.Errorf("Expected 100 bytes recorded, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordCache("hit")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "rescale_drive_listing_cache_total") {
		t.Error("Expected cache metric in handler output")
	}
}
