package agent

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"smartplanning/internal/knowledge"
	llmclient "smartplanning/internal/llmClient"
	"smartplanning/internal/llmtool"
)

// Searcher is the knowledge index as the RAG agent uses it.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, minScore float64) (knowledge.Result, error)
}

var ragPrompt = llmtool.MustRender(llmtool.StructuredPromptSpec{
	Purpose:      "Answer the user's question from the retrieved documentation passages.",
	Background:   "passages are the best matches from the team's internal documents, each with its source.",
	OutputFields: []llmtool.PromptField{answerField},
	Rules: []string{
		"Base the answer on passages; cite the sources you used as (source).",
		"If the passages do not answer the question, say so.",
	},
	Constraints:  []string{"Do not invent facts that are not in passages."},
	OutputFormat: `{"answer": "..."}`,
	Language:     "The language of the user's question.",
})

// RAG answers questions about internal documents.
type RAG struct {
	client llmclient.LLMClient
	index  Searcher
	cfg    Config
	log    *zap.Logger
}

func NewRAG(client llmclient.LLMClient, index Searcher, cfg Config, log *zap.Logger) *RAG {
	if log == nil {
		log = zap.NewNop()
	}
	return &RAG{client: client, index: index, cfg: cfg.withDefaults(), log: log}
}

func (r *RAG) Name() Name { return NameRAG }

type passage struct {
	Title   string  `json:"title"`
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type ragInput struct {
	Question string    `json:"question"`
	History  []Turn    `json:"history,omitempty"`
	Passages []passage `json:"passages"`
}

func (r *RAG) Handle(ctx context.Context, req Request) (Response, error) {
	res, err := r.index.Search(ctx, req.Message, r.cfg.TopK, r.cfg.MinScore)
	if err != nil {
		return Response{}, fmt.Errorf("rag: search: %w", err)
	}
	meta := map[string]any{
		"relevance_score": res.MaxScore,
		"top_k":           r.cfg.TopK,
		"min_score":       r.cfg.MinScore,
	}
	if len(res.Hits) == 0 {
		r.log.Info("no documents above threshold", zap.Float64("max_score", res.MaxScore), zap.Float64("min_score", r.cfg.MinScore))
		meta["retrieval_success"] = false
		return Response{
			Answer:   fmt.Sprintf("No relevant documents found. Highest relevance score: %.3f (threshold %.2f).", res.MaxScore, r.cfg.MinScore),
			Agent:    NameRAG,
			Metadata: meta,
		}, nil
	}

	in := ragInput{Question: req.Message, History: Recent(req.History, r.cfg.RAGHistoryPairs)}
	seen := map[string]bool{}
	var sources []string
	for _, h := range res.Hits {
		in.Passages = append(in.Passages, passage{Title: h.Title, Source: h.Ref(), Content: h.Content, Score: h.Score})
		if ref := h.Ref(); !seen[ref] {
			seen[ref] = true
			sources = append(sources, ref)
		}
	}
	sort.Strings(sources)

	text, err := askText(ctx, r.client, PhaseRAG, r.cfg.RAGTemperature, ragPrompt, in)
	if err != nil {
		return Response{}, fmt.Errorf("rag: %w", err)
	}
	meta["retrieval_success"] = true
	r.log.Info("rag answer", zap.Int("passages", len(in.Passages)), zap.Float64("max_score", res.MaxScore))
	return Response{Answer: text, Agent: NameRAG, Sources: sources, Metadata: meta}, nil
}
