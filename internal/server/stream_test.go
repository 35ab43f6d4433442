package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/PureCypher/IPChecker-sub000/internal/intel"
	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

type sseEvent struct {
	name string
	data []byte
}

// parseSSE splits a finished event-stream body into its frames.
func parseSSE(t *testing.T, body []byte) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = []byte(strings.TrimPrefix(line, "data: "))
		case line == "":
			if cur.name != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	return events
}

func names(events []sseEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.name
	}
	return out
}

func TestStream_LiveSequence(t *testing.T) {
	env := newServerEnv(t)

	resp, body := env.do(t, "GET", "/api/v1/lookup/stream?ip=8.8.8.8", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q, want text/event-stream", ct)
	}

	events := parseSSE(t, body)
	want := []string{"lookup_start", "provider_complete", "provider_complete",
		"correlation_complete", "lookup_complete"}
	got := names(events)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}

	var start struct {
		IP    string `json:"ip"`
		Total int    `json:"total"`
	}
	if err := json.Unmarshal(events[0].data, &start); err != nil {
		t.Fatal(err)
	}
	if start.IP != "8.8.8.8" || start.Total != 2 {
		t.Errorf("lookup_start = %+v, want ip 8.8.8.8 and total 2", start)
	}

	var prog providers.Progress
	if err := json.Unmarshal(events[1].data, &prog); err != nil {
		t.Fatal(err)
	}
	if prog.Index != 1 || prog.Total != 2 {
		t.Errorf("first provider_complete = %+v, want index 1 of 2", prog)
	}

	var complete struct {
		Data   *intel.Record `json:"data"`
		Cached bool          `json:"cached"`
	}
	if err := json.Unmarshal(events[len(events)-1].data, &complete); err != nil {
		t.Fatal(err)
	}
	if complete.Cached {
		t.Error("live lookup should not be flagged cached")
	}
	if complete.Data == nil || complete.Data.IP != "8.8.8.8" {
		t.Errorf("lookup_complete data = %+v, want the 8.8.8.8 record", complete.Data)
	}
}

func TestStream_CachedRecordShortCircuits(t *testing.T) {
	env := newServerEnv(t)
	env.cache.seed("8.8.8.8", seedRecord("8.8.8.8"), 26*24*time.Hour)

	resp, body := env.do(t, "GET", "/api/v1/lookup/stream?ip=8.8.8.8", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	events := parseSSE(t, body)
	if len(events) != 1 || events[0].name != "lookup_complete" {
		t.Fatalf("events = %v, want a single lookup_complete", names(events))
	}

	var complete struct {
		Data   *intel.Record `json:"data"`
		Cached bool          `json:"cached"`
	}
	if err := json.Unmarshal(events[0].data, &complete); err != nil {
		t.Fatal(err)
	}
	if !complete.Cached {
		t.Error("warm hit should be flagged cached")
	}
	if got := env.fan.callCount(); got != 0 {
		t.Errorf("fan-out calls = %d, want 0 for a warm hit", got)
	}
}

func TestStream_AllProvidersFailedEmitsError(t *testing.T) {
	env := newServerEnv(t)
	env.fan.perIP = map[string][]providers.Result{"1.1.1.1": failedResults()}

	resp, body := env.do(t, "GET", "/api/v1/lookup/stream?ip=1.1.1.1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200; failures surface as events", resp.StatusCode)
	}

	events := parseSSE(t, body)
	got := names(events)
	if len(got) == 0 || got[len(got)-1] != "lookup_error" {
		t.Fatalf("events = %v, want terminal lookup_error", got)
	}

	var ee struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(events[len(events)-1].data, &ee); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ee.Error, "providers failed") {
		t.Errorf("error = %q, want the all-providers-failed message", ee.Error)
	}
}

func TestStream_InvalidInputRejectedBeforeStreaming(t *testing.T) {
	env := newServerEnv(t)

	resp, body := env.do(t, "GET", "/api/v1/lookup/stream?ip=10.0.0.1", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q, want a JSON error, not a stream", ct)
	}
	if ee := decodeEnvelope(t, body); ee.Error.Code != "PRIVATE_IP" {
		t.Errorf("code = %q, want PRIVATE_IP", ee.Error.Code)
	}
}

func TestStream_MissingIPParam(t *testing.T) {
	env := newServerEnv(t)

	resp, body := env.do(t, "GET", "/api/v1/lookup/stream", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if ee := decodeEnvelope(t, body); ee.Error.Code != "INVALID_FORMAT" {
		t.Errorf("code = %q, want INVALID_FORMAT", ee.Error.Code)
	}
}
