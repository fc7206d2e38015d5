package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpDoer lets tests substitute the community transport.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func newCommunityClient() *http.Client {
	return &http.Client{Timeout: 20 * time.Second}
}

// community posts the action to the community server and forwards the
// response body verbatim. The response schema is the server's business.
func (e *Executor) community(ctx context.Context, args json.RawMessage) string {
	if !e.cfg.EnableCommunity || e.cfg.CommunityURL == "" {
		return "(error: unknown tool 'community')"
	}

	var params struct {
		Action  string `json:"action"`
		Content string `json:"content"`
		PostID  string `json:"post_id"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "(error: invalid arguments: " + err.Error() + ")"
	}
	switch params.Action {
	case "look", "post", "reply", "check":
	default:
		return fmt.Sprintf("(error: unknown community action '%s')", params.Action)
	}
	if (params.Action == "post" || params.Action == "reply") && params.Content == "" {
		return "(error: content is required for " + params.Action + ")"
	}
	if params.Action == "reply" && params.PostID == "" {
		return "(error: post_id is required for reply)"
	}

	payload, _ := json.Marshal(map[string]string{
		"action":  params.Action,
		"content": params.Content,
		"post_id": params.PostID,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.CommunityURL, bytes.NewReader(payload))
	if err != nil {
		return "(error: community request: " + err.Error() + ")"
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.CommunityKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.CommunityKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "(error: community server unreachable: " + err.Error() + ")"
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "(error: community response: " + err.Error() + ")"
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("(error: community server returned %d: %s)", resp.StatusCode, e.truncate(string(body)))
	}
	return string(body)
}
