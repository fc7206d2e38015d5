package tools

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

type fakeDoer struct {
	lastReq *http.Request
	body    string
	status  int
	err     error
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(f.body)),
	}, nil
}

func communityFixture(t *testing.T, doer *fakeDoer) *Executor {
	e, _, _ := fixture(t)
	e.cfg.EnableCommunity = true
	e.cfg.CommunityURL = "http://community.example/api"
	e.cfg.CommunityKey = "secret-token"
	e.client = doer
	return e
}

func TestCommunityLookForwardsBodyVerbatim(t *testing.T) {
	doer := &fakeDoer{body: `{"text":"3 new posts today"}`}
	e := communityFixture(t, doer)

	got := e.Execute(context.Background(), "community", args(t, map[string]any{"action": "look"}))
	if got != doer.body {
		t.Errorf("response = %q, want verbatim body", got)
	}
	if auth := doer.lastReq.Header.Get("Authorization"); auth != "Bearer secret-token" {
		t.Errorf("auth header = %q", auth)
	}
	if doer.lastReq.Method != http.MethodPost {
		t.Errorf("method = %s", doer.lastReq.Method)
	}
}

func TestCommunityValidation(t *testing.T) {
	e := communityFixture(t, &fakeDoer{body: "ok"})
	ctx := context.Background()

	if got := e.Execute(ctx, "community", args(t, map[string]any{"action": "dance"})); !strings.Contains(got, "unknown community action") {
		t.Errorf("got %q", got)
	}
	if got := e.Execute(ctx, "community", args(t, map[string]any{"action": "post"})); !strings.Contains(got, "content is required") {
		t.Errorf("got %q", got)
	}
	if got := e.Execute(ctx, "community", args(t, map[string]any{"action": "reply", "content": "hi"})); !strings.Contains(got, "post_id is required") {
		t.Errorf("got %q", got)
	}
}

func TestCommunityTransportError(t *testing.T) {
	e := communityFixture(t, &fakeDoer{err: io.ErrUnexpectedEOF})
	got := e.Execute(context.Background(), "community", args(t, map[string]any{"action": "check"}))
	if !strings.Contains(got, "unreachable") {
		t.Errorf("got %q", got)
	}
}

func TestCommunityDisabled(t *testing.T) {
	e, _, _ := fixture(t)
	got := e.Execute(context.Background(), "community", args(t, map[string]any{"action": "look"}))
	if !strings.Contains(got, "unknown tool") {
		t.Errorf("disabled community should look absent: %q", got)
	}
}
