package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"smartplanning/internal/knowledge"
)

// --------------------- knowledge_search ---------------------

type knowledgeSearchTool struct{ host Host }

func newKnowledgeSearchTool(h Host) *knowledgeSearchTool { return &knowledgeSearchTool{host: h} }

func (t *knowledgeSearchTool) Spec() ToolSpec {
	return ToolSpec{
		Name:         ToolKnowledgeSearch,
		Description:  "Search the ingested documentation and return the best matching passages with their sources.",
		InputSchema:  json.RawMessage(`{"query":"string","top_k":"int","min_score":"float"}`),
		OutputSchema: json.RawMessage(`{"hits":[{"title":"string","source":"string","page":"int","content":"string","score":"float"}],"max_score":"float"}`),
	}
}

type knowledgeSearchInput struct {
	Query    string  `json:"query"`
	TopK     int     `json:"top_k"`
	MinScore float64 `json:"min_score"`
}

type knowledgeSearchOutput struct {
	Hits     []knowledge.Hit `json:"hits"`
	MaxScore float64         `json:"max_score"`
}

func (t *knowledgeSearchTool) Call(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in knowledgeSearchInput
	if err := decode(ToolKnowledgeSearch, input, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, &ToolError{Tool: ToolKnowledgeSearch, Reason: "query is required"}
	}
	if in.TopK <= 0 {
		in.TopK = knowledge.DefaultTopK
	}
	if in.MinScore <= 0 {
		in.MinScore = knowledge.DefaultMinScore
	}
	res, err := t.host.Knowledge.Search(ctx, in.Query, in.TopK, in.MinScore)
	if err != nil {
		return nil, err
	}
	out := knowledgeSearchOutput{Hits: res.Hits, MaxScore: res.MaxScore}
	if out.Hits == nil {
		out.Hits = []knowledge.Hit{}
	}
	return json.Marshal(out)
}
