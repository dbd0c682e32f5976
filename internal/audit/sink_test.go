package audit_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"conduit/internal/audit"
	"conduit/internal/testsupport"
)

func TestHTTPSinkDeliversEvent(t *testing.T) {
	var received audit.Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Audit.Endpoint = server.URL
	sink := audit.NewSink(cfg, nil)

	sink.Record(context.Background(), audit.Event{
		Action:  "pipeline_completed",
		ActorID: "creator-1",
		AssetID: "asset-1",
		Detail:  map[string]string{"platforms": "tube,social"},
	})

	if received.Action != "pipeline_completed" || received.AssetID != "asset-1" {
		t.Fatalf("unexpected event: %+v", received)
	}
	if received.Timestamp.IsZero() {
		t.Fatal("sink should stamp events")
	}
}

func TestSinkSwallowsDeliveryFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Audit.Endpoint = "http://127.0.0.1:9/audit"
	sink := audit.NewSink(cfg, nil)

	// Must not panic or block the caller.
	sink.Record(context.Background(), audit.Event{Action: "upload_cancelled"})
}

func TestLogSinkWithoutEndpoint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Audit.Endpoint = ""
	sink := audit.NewSink(cfg, nil)
	sink.Record(context.Background(), audit.Event{Action: "upload_started", UploadID: "u-1"})
}
