package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/connexus-ai/ragbox-backend/internal/bus"
	"github.com/connexus-ai/ragbox-backend/internal/middleware"
)

func postRecall(t *testing.T, deps RecallDeps, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/recall/test", bytes.NewReader(payload))
	req = req.WithContext(middleware.WithUserID(req.Context(), "u1"))
	rec := httptest.NewRecorder()
	StartRecallTest(deps)(rec, req)
	return rec
}

func TestStartRecallTest_Validation(t *testing.T) {
	deps := RecallDeps{Publisher: &fakePublisher{}}

	cases := []struct {
		name string
		body RecallTestRequest
	}{
		{"no queries", RecallTestRequest{TopN: 10, Threshold: 0.5, KnowledgeIDs: []string{"kb"}}},
		{"topN zero", RecallTestRequest{Queries: []bus.RecallQuery{{Query: "q"}}, Threshold: 0.5, KnowledgeIDs: []string{"kb"}}},
		{"topN too big", RecallTestRequest{Queries: []bus.RecallQuery{{Query: "q"}}, TopN: 101, Threshold: 0.5, KnowledgeIDs: []string{"kb"}}},
		{"threshold out of range", RecallTestRequest{Queries: []bus.RecallQuery{{Query: "q"}}, TopN: 10, Threshold: 1.5, KnowledgeIDs: []string{"kb"}}},
		{"no knowledge ids", RecallTestRequest{Queries: []bus.RecallQuery{{Query: "q"}}, TopN: 10, Threshold: 0.5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postRecall(t, deps, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestStartRecallTest_TooManyQueries(t *testing.T) {
	deps := RecallDeps{Publisher: &fakePublisher{}}
	queries := make([]bus.RecallQuery, 5001)
	for i := range queries {
		queries[i] = bus.RecallQuery{Query: "q"}
	}
	rec := postRecall(t, deps, RecallTestRequest{Queries: queries, TopN: 10, Threshold: 0.5, KnowledgeIDs: []string{"kb"}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
