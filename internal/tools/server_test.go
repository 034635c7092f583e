package tools

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, svc *Service) *httptest.Server {
	t.Helper()
	srv := NewServer(svc)
	ts := httptest.NewServer(srv.echo)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp.StatusCode
}

func TestServerSubmitPassResults(t *testing.T) {
	session := &fakeSession{}
	ts := newTestServer(t, newService(newFakeHost(), session, testConfig()))

	var resp SubmitPassResponse
	status := postJSON(t, ts.URL+"/tools/submit_pass_results", SubmitPassRequest{
		PassNumber: 2, Summary: "structural pass done",
	}, &resp)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if !resp.Recorded || resp.NextAction != "proceed to pass 3" {
		t.Errorf("resp = %+v", resp)
	}
	if len(session.results) != 1 || session.results[0].PassNumber != 2 {
		t.Errorf("recorded = %+v", session.results)
	}
}

func TestServerRejectsInvalidPassNumber(t *testing.T) {
	ts := newTestServer(t, newService(newFakeHost(), &fakeSession{}, testConfig()))

	var resp errorResponse
	status := postJSON(t, ts.URL+"/tools/submit_pass_results", SubmitPassRequest{PassNumber: 9}, &resp)
	if status != http.StatusUnprocessableEntity || resp.Error == "" {
		t.Errorf("status = %d, resp = %+v", status, resp)
	}
}

func TestServerRunState(t *testing.T) {
	host := newFakeHost(findingComment("n1", "t1", "a.go", 10, 7, "unchecked close error"))
	ts := newTestServer(t, newService(host, &fakeSession{}, testConfig()))

	resp, err := http.Get(ts.URL + "/tools/get_run_state")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var runState RunStateResponse
	if err := json.NewDecoder(resp.Body).Decode(&runState); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if runState.Revision != "abc123" || len(runState.Threads) != 1 {
		t.Errorf("run state = %+v", runState)
	}
	if runState.Threads[0].Status != "PENDING" {
		t.Errorf("thread = %+v", runState.Threads[0])
	}
}
