package etoll

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestSubmitter(server *httptest.Server) *Submitter {
	return &Submitter{
		client: server.Client(),
		url:    server.URL,
		logger: discardLogger(),
	}
}

func TestSubmitClassification(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("content type = %q", ct)
			}
			body, _ := io.ReadAll(r.Body)
			if string(body) != `[{"dataId":"1"}]` {
				t.Errorf("unexpected body %q", body)
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		outcome := newTestSubmitter(server).Submit(context.Background(), []byte(`[{"dataId":"1"}]`))
		if outcome.Kind != OutcomeSuccess {
			t.Errorf("outcome = %v, want success", outcome.Kind)
		}
	})

	t.Run("unsupported media type", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			io.WriteString(w, "schema mismatch")
		}))
		defer server.Close()

		outcome := newTestSubmitter(server).Submit(context.Background(), []byte(`[]`))
		if outcome.Kind != OutcomeFrameInvalid {
			t.Fatalf("outcome = %v, want frameInvalid", outcome.Kind)
		}
		if outcome.Message != "415 schema mismatch" {
			t.Errorf("message = %q", outcome.Message)
		}
	})

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, "maintenance window")
		}))
		defer server.Close()

		outcome := newTestSubmitter(server).Submit(context.Background(), []byte(`[]`))
		if outcome.Kind != OutcomeServerUnavailable {
			t.Fatalf("outcome = %v, want serverUnavailable", outcome.Kind)
		}
		if !strings.Contains(outcome.Message, "503") || !strings.Contains(outcome.Message, "maintenance window") {
			t.Errorf("message = %q", outcome.Message)
		}
	})

	t.Run("connection refused", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		submitter := newTestSubmitter(server)
		server.Close()

		outcome := submitter.Submit(context.Background(), []byte(`[]`))
		if outcome.Kind != OutcomeServerUnavailable {
			t.Errorf("outcome = %v, want serverUnavailable", outcome.Kind)
		}
		if outcome.Message == "" {
			t.Error("transport failure produced no message")
		}
	})
}

func TestOutcomeKindString(t *testing.T) {
	if OutcomeSuccess.String() != "success" ||
		OutcomeFrameInvalid.String() != "frameInvalid" ||
		OutcomeServerUnavailable.String() != "serverUnavailable" {
		t.Error("outcome labels drifted from metric values")
	}
}
