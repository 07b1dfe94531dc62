package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbetel/invochat/internal/embedding"
	"github.com/mbetel/invochat/internal/index"
	"github.com/mbetel/invochat/internal/invoice"
	"github.com/mbetel/invochat/internal/session"
)

const (
	// defaultTopK is the retrieval candidate count per question.
	defaultTopK = 10
	// minLookupScore is the similarity floor below which retrieved facts are
	// not presented as lookup evidence.
	minLookupScore = 0.1
	// maxLookupResults caps how many invoices a lookup answer lists.
	maxLookupResults = 5
)

// SessionResolver is the slice of the session manager the engine needs.
type SessionResolver interface {
	Get(id, requesterID string) (*session.Session, error)
	Touch(id string)
}

// QuestionEmbedder embeds a single question text.
type QuestionEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Answer is the outcome of one chat turn: free text plus the fact ids used
// as evidence, for traceability.
type Answer struct {
	Text     string   `json:"answer"`
	Evidence []string `json:"evidence"`
}

// Engine answers natural-language questions against one session. Retrieval
// and aggregation are deliberately separate paths: lookups cite retrieved
// evidence, aggregates always run over the session's full record set.
type Engine struct {
	sessions   SessionResolver
	embedder   QuestionEmbedder
	topK       int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewEngine creates an Engine. topK <= 0 defaults to 10.
func NewEngine(sessions SessionResolver, embedder QuestionEmbedder, topK int) *Engine {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Engine{
		sessions:   sessions,
		embedder:   embedder,
		topK:       topK,
		retryDelay: 500 * time.Millisecond,
		logger:     slog.Default(),
	}
}

// Ask resolves the session, classifies the question, retrieves evidence, and
// computes the answer. A successful turn refreshes the session's TTL.
func (e *Engine) Ask(ctx context.Context, sessionID, requesterID, question string) (Answer, error) {
	s, err := e.sessions.Get(sessionID, requesterID)
	if err != nil {
		return Answer{}, err
	}

	q := Classify(question)

	vec, err := e.embedQuestion(ctx, question)
	if err != nil {
		return Answer{}, err
	}

	hits, err := s.Index.Search(vec, e.topK)
	if err != nil {
		return Answer{}, fmt.Errorf("searching session index: %w", err)
	}

	var answer Answer
	if q.Kind == KindAggregate {
		answer = e.answerAggregate(s, q, hits)
	} else {
		answer = answerLookup(s, q, hits)
	}

	e.sessions.Touch(sessionID)
	e.logger.Debug("chat turn answered",
		"session_id", sessionID,
		"kind", q.Kind,
		"evidence", len(answer.Evidence),
	)
	return answer, nil
}

// RetrievedFact is one semantic search hit with its source invoice context.
type RetrievedFact struct {
	ID      string  `json:"id"`
	Text    string  `json:"text"`
	Score   float32 `json:"score"`
	Invoice string  `json:"invoice"`
}

// Retrieve runs plain semantic search against one session, without the
// classify/aggregate machinery. Used by the MCP search tool.
func (e *Engine) Retrieve(ctx context.Context, sessionID, requesterID, text string, k int) ([]RetrievedFact, error) {
	s, err := e.sessions.Get(sessionID, requesterID)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = e.topK
	}

	vec, err := e.embedQuestion(ctx, text)
	if err != nil {
		return nil, err
	}
	hits, err := s.Index.Search(vec, k)
	if err != nil {
		return nil, fmt.Errorf("searching session index: %w", err)
	}

	facts := make([]RetrievedFact, 0, len(hits))
	for _, h := range hits {
		rec := s.Records[h.Fact.Record]
		facts = append(facts, RetrievedFact{
			ID:      h.Fact.ID,
			Text:    h.Fact.Text,
			Score:   h.Score,
			Invoice: rec.InvoiceNumber,
		})
	}
	e.sessions.Touch(sessionID)
	return facts, nil
}

// SessionSummary computes the whole-session overview for a requester.
func (e *Engine) SessionSummary(sessionID, requesterID string) (Summary, error) {
	s, err := e.sessions.Get(sessionID, requesterID)
	if err != nil {
		return Summary{}, err
	}
	summary := Summarize(s.Records)
	e.sessions.Touch(sessionID)
	return summary, nil
}

// embedQuestion embeds the question, retrying once with backoff when the
// provider fails. Anything else surfaces immediately.
func (e *Engine) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	vec, err := e.embedder.Embed(ctx, question)
	if err == nil {
		return vec, nil
	}
	if !errors.Is(err, embedding.ErrProvider) {
		return nil, err
	}

	e.logger.Warn("question embedding failed, retrying once", "error", err)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(e.retryDelay):
	}
	return e.embedder.Embed(ctx, question)
}

// answerAggregate computes the exact aggregate over the session's full
// record set. The retrieved hits contribute evidence ids only; they never
// influence the numbers.
func (e *Engine) answerAggregate(s *session.Session, q Query, hits []index.Result) Answer {
	evidence := evidenceIDs(hits)

	if q.Op == OpSummary {
		return Answer{Text: renderSummary(Summarize(s.Records)), Evidence: evidence}
	}

	res, err := Aggregate(s.Records, q)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			return Answer{Text: renderNoData(q), Evidence: evidence}
		}
		// Aggregate currently only fails with ErrNoData; keep the degraded
		// path for anything future rather than surfacing a system error.
		return Answer{Text: renderNoData(q), Evidence: evidence}
	}
	return Answer{Text: renderAggregate(s.Records, q, res), Evidence: evidence}
}

// answerLookup presents the retrieved facts that clear the similarity floor
// and satisfy the question's filter. An empty evidence set produces an
// explicit no-match answer, never a fabricated one.
func answerLookup(s *session.Session, q Query, hits []index.Result) Answer {
	var (
		evidence []string
		records  []int
		seen     = make(map[int]bool)
	)
	for _, hit := range hits {
		if hit.Score <= minLookupScore {
			continue
		}
		rec := s.Records[hit.Fact.Record]
		if !lookupMatches(rec, q.Filter) {
			continue
		}
		evidence = append(evidence, hit.Fact.ID)
		if !seen[hit.Fact.Record] {
			seen[hit.Fact.Record] = true
			records = append(records, hit.Fact.Record)
		}
	}

	if len(records) == 0 {
		return Answer{Text: "No matching invoices found."}
	}
	if len(records) > maxLookupResults {
		records = records[:maxLookupResults]
	}
	return Answer{Text: renderLookup(s.Records, records), Evidence: evidence}
}

// lookupMatches applies the full filter, amount bounds included, to one
// candidate record.
func lookupMatches(rec invoice.Record, f Filter) bool {
	if !matchesText(rec, f) {
		return false
	}
	if f.MinAmount != nil && (rec.TotalAmount == nil || *rec.TotalAmount <= *f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && (rec.TotalAmount == nil || *rec.TotalAmount >= *f.MaxAmount) {
		return false
	}
	return true
}

func evidenceIDs(hits []index.Result) []string {
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.Fact.ID)
	}
	return ids
}
