package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

const queryPath = "/v1/api/chat/query"

// Answer is one backend reply, shared by the REST endpoint and socket frames.
type Answer struct {
	Type         string          `json:"type"`
	Content      string          `json:"content"`
	AnalysisData json.RawMessage `json:"analysis_data,omitempty"`
}

// Query runs a single request/response cycle against the REST query endpoint.
func (u *UserClient) Query(ctx context.Context, text string) (*Answer, error) {
	if strings.TrimSpace(text) == "" {
		return nil, invalid("query text is required")
	}
	req, err := jsonRequest(http.MethodPost, queryPath, map[string]string{"userQuery": text})
	if err != nil {
		return nil, err
	}
	var out Answer
	if err := u.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
