package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	vigil "github.com/ardelia/vigil"
)

// cannedProvider answers every Chat with a fixed body or error.
type cannedProvider struct {
	name  string
	body  string
	err   error
	calls int
	seen  []vigil.ChatRequest
}

func (p *cannedProvider) Name() string { return p.name }

func (p *cannedProvider) Chat(_ context.Context, req vigil.ChatRequest) (vigil.ChatResponse, error) {
	p.calls++
	p.seen = append(p.seen, req)
	if p.err != nil {
		return vigil.ChatResponse{}, p.err
	}
	return vigil.ChatResponse{Content: p.body}, nil
}

func (p *cannedProvider) ChatStream(ctx context.Context, req vigil.ChatRequest, ch chan<- vigil.StreamEvent) (vigil.ChatResponse, error) {
	close(ch)
	return p.Chat(ctx, req)
}

const deltaYAML = "```yaml\n" + `
add:
  services:
    - name: web
      port: 80
activity:
  content: "Brought up the web service."
  tags: ["#deploy", " services "]
  quote: "it is alive"
` + "```"

func timelineFixture() vigil.TimelineEntry {
	return vigil.TimelineEntry{Round: 6, ActionLog: "[10:00:01] starting the web service"}
}

func TestUpdateSnapshotMergesAndPostsFeed(t *testing.T) {
	m := newTestManager(t)
	m.SaveSnapshot(baseSnapshot())
	primary := &cannedProvider{name: "auditor", body: deltaYAML}
	p := NewPipeline(m, primary, &cannedProvider{name: "main"}, nil)

	if err := p.UpdateSnapshot(context.Background(), timelineFixture(), "it is alive today"); err != nil {
		t.Fatalf("update: %v", err)
	}

	s, _ := m.LoadSnapshot()
	if s.find("services", "web") < 0 {
		t.Error("delta add not merged")
	}
	if s.Meta.Round != 6 {
		t.Errorf("meta.round = %d", s.Meta.Round)
	}

	feed := m.AllFeed()
	if len(feed) != 1 {
		t.Fatalf("feed posts = %d", len(feed))
	}
	post := feed[0]
	if post.Round != 6 || post.Content != "Brought up the web service." {
		t.Errorf("post = %+v", post)
	}
	if len(post.Tags) != 2 || post.Tags[0] != "deploy" || post.Tags[1] != "services" {
		t.Errorf("tags not normalised: %v", post.Tags)
	}
	if post.Quote != "it is alive" {
		t.Errorf("quote = %q", post.Quote)
	}
}

func TestUpdateSnapshotFallsBack(t *testing.T) {
	m := newTestManager(t)
	primary := &cannedProvider{name: "auditor", err: errors.New("down")}
	fallback := &cannedProvider{name: "main", body: "no_changes: true\nactivity:\n  content: \"\""}
	p := NewPipeline(m, primary, fallback, nil)

	if err := p.UpdateSnapshot(context.Background(), timelineFixture(), ""); err != nil {
		t.Fatalf("update: %v", err)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.calls, fallback.calls)
	}
	// Empty activity content: no feed post.
	if got := m.AllFeed(); len(got) != 0 {
		t.Errorf("feed = %+v, want empty", got)
	}
}

func TestUpdateSnapshotBothFailIsFatal(t *testing.T) {
	m := newTestManager(t)
	p := NewPipeline(m,
		&cannedProvider{name: "auditor", err: errors.New("down")},
		&cannedProvider{name: "main", body: ": not yaml ["},
		nil)

	err := p.UpdateSnapshot(context.Background(), timelineFixture(), "")
	var fatal *vigil.ErrSnapshotUpdate
	if !errors.As(err, &fatal) {
		t.Fatalf("got %v, want ErrSnapshotUpdate", err)
	}
}

func TestUpdateSnapshotPromptCarriesInputs(t *testing.T) {
	m := newTestManager(t)
	primary := &cannedProvider{name: "auditor", body: "no_changes: true"}
	p := NewPipeline(m, primary, primary, nil)

	e := timelineFixture()
	if err := p.UpdateSnapshot(context.Background(), e, "final words"); err != nil {
		t.Fatalf("update: %v", err)
	}

	req := primary.seen[0]
	if len(req.Messages) != 2 {
		t.Fatalf("messages = %d", len(req.Messages))
	}
	user := req.Messages[1].Content
	for _, want := range []string{"starting the web service", "final words", "Round 6"} {
		if !strings.Contains(user, want) {
			t.Errorf("auditor input missing %q", want)
		}
	}
	if req.Temperature == nil || *req.Temperature != auditorTemperature {
		t.Error("auditor temperature not set")
	}
}
