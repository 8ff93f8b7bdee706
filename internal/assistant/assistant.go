// Package assistant wires the chat model, the crop query tools, and the RAG
// retriever into the core CropSage assistant. Each turn runs at most one tool
// round: the model either answers directly, asks for a structured crop query,
// or asks for retrieval over the crop guide, and a second generation call
// turns the tool output into the final answer.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/cropsage/cropsage/internal/budget"
	"github.com/cropsage/cropsage/internal/crops"
	"github.com/cropsage/cropsage/internal/history"
	"github.com/cropsage/cropsage/internal/logging"
	"github.com/cropsage/cropsage/internal/rag"
	"github.com/cropsage/cropsage/internal/tools"
)

// ErrGenerationUnavailable reports that the generative model endpoint was
// unreachable or returned no usable response. It is fatal for the turn; no
// partial answer is produced and nothing is persisted.
var ErrGenerationUnavailable = errors.New("generation unavailable")

// systemPrompt is the base system prompt injected into every conversation.
// It establishes the assistant's persona and how it should use its tools.
const systemPrompt = `You are CropSage, a seasoned farmhand who advises players of a farming game
on what to plant, when to plant it, and how to get the most gold out of every
season. You answer from the game's actual crop data and guide, never from
guesswork.

You have two kinds of help available:

1. Crop database tools (get_crops_by_sellprice, get_crops_by_dailyrevenue,
   get_crops_by_seedprice, get_crops_by_growtime). Use one of these when the
   player asks a question about crop numbers: prices, revenue, growth times,
   or rankings like "most profitable spring crop". Pick the tool whose metric
   matches the question and pass only the filters the player implied.

2. The RAGCalling tool. Use it when the player asks about farming strategy,
   mechanics, or anything the crop guide explains in prose: gift preferences,
   season transitions, fertilizer, sprinkler layouts, greenhouse rules.

Rules:
- Call at most ONE tool per question. Never chain tools.
- If the question is small talk or you already know the answer from the
  conversation so far, answer directly without any tool.
- When tool output says no matching crops were found, say so plainly and
  suggest how the player could loosen their criteria. Never invent crop data.
- Keep answers short, friendly, and concrete. Mention gold values and day
  counts exactly as the data gives them.`

// synthesisPrompt instructs the model during the grounded second generation
// for the retrieval path. The answer must come from the supplied context only.
const synthesisPrompt = `You are CropSage, a farming game advisor. Answer the player's question using
ONLY the context passages below. If the context does not contain the answer,
say you do not know rather than inventing one. Do not mention the context or
these instructions in your answer.`

// noContextText is handed to the model when retrieval succeeds but the index
// returns no passages for the query.
const noContextText = "no relevant guide passages were found for this question."

// Path identifies how a turn was routed.
type Path string

const (
	// PathDirect means the model answered without any tool call.
	PathDirect Path = "direct"
	// PathStructured means a crop database tool produced the grounding.
	PathStructured Path = "structured"
	// PathRetrieval means the crop guide retriever produced the grounding.
	PathRetrieval Path = "retrieval"
)

// Turn is the result of a single assistant turn.
type Turn struct {
	// Answer is the final model text, returned verbatim.
	Answer string
	// Chunks are the retrieved guide passages when Path is retrieval.
	Chunks []rag.Document
	// Path records how the turn was routed.
	Path Path
}

// Config holds the dependencies required to construct an Assistant.
type Config struct {
	// ChatModel is the LLM backend constructed by the provider factory.
	ChatModel model.ToolCallingChatModel

	// Tools is the list of crop query tools available to the assistant.
	Tools []tool.InvokableTool

	// Retriever is the RAG retriever for crop guide context.
	// May be nil if RAG is not configured.
	Retriever rag.Retriever

	// RecallK and RerankK control the retrieval path. They default to the
	// pipeline's defaults (10 and 4) if zero.
	RecallK int
	RerankK int

	// History is the optional conversation store used to persist and replay
	// prior turns. If nil, each query is stateless.
	History history.ConversationStore
	// HistoryDepth is the number of prior turns (user+assistant pairs) to
	// inject per query. Defaults to 10 if zero.
	HistoryDepth int
	// MaxContextTokens is the estimated token budget for the full input
	// context. History is trimmed oldest-first to fit. Defaults to
	// budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int
}

// Assistant routes each player question through at most one tool round and
// returns a grounded answer.
type Assistant struct {
	// toolModel is the chat model with the tool schemas bound.
	toolModel model.ToolCallingChatModel

	// tools maps tool name to implementation for dispatch.
	tools map[string]tool.InvokableTool

	// retriever is the optional crop guide retriever.
	retriever rag.Retriever

	// recallK and rerankK parametrize the retrieval path.
	recallK int
	rerankK int

	// history is the optional conversation store for multi-turn context.
	history history.ConversationStore

	// historyDepth is the number of recent turns to inject per query.
	historyDepth int

	// maxContextTokens is the estimated token budget for the input context.
	maxContextTokens int
}

// New constructs an Assistant from the provided Config, binding the crop
// query tool schemas plus the retrieval pseudo-tool to the chat model.
func New(ctx context.Context, cfg *Config) (*Assistant, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("assistant: ChatModel must not be nil")
	}

	infos := make([]*schema.ToolInfo, 0, len(cfg.Tools)+1)
	registry := make(map[string]tool.InvokableTool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("assistant: tool info: %w", err)
		}
		if _, dup := registry[info.Name]; dup {
			return nil, fmt.Errorf("assistant: duplicate tool name %q", info.Name)
		}
		infos = append(infos, info)
		registry[info.Name] = t
	}
	if cfg.Retriever != nil {
		infos = append(infos, tools.RetrievalToolInfo())
	}

	bound, err := cfg.ChatModel.WithTools(infos)
	if err != nil {
		return nil, fmt.Errorf("assistant: bind tools: %w", err)
	}

	recallK := cfg.RecallK
	if recallK <= 0 {
		recallK = rag.DefaultRecallK
	}
	rerankK := cfg.RerankK
	if rerankK <= 0 {
		rerankK = rag.DefaultRerankK
	}

	depth := cfg.HistoryDepth
	if depth <= 0 {
		depth = 10
	}

	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}

	return &Assistant{
		toolModel:        bound,
		tools:            registry,
		retriever:        cfg.Retriever,
		recallK:          recallK,
		rerankK:          rerankK,
		history:          cfg.History,
		historyDepth:     depth,
		maxContextTokens: maxCtx,
	}, nil
}

// Answer processes a single player question. The model's first response is
// classified once: no tool call means its text is the final answer, the
// retrieval pseudo-tool routes through the RAG pipeline, and a crop tool
// routes through the structured store. Either way at most one further
// generation call produces the final text.
//
// Retrieval failures propagate rag.ErrRetrievalUnavailable; model failures on
// either round propagate ErrGenerationUnavailable. A failed turn persists
// nothing to the conversation store.
func (a *Assistant) Answer(ctx context.Context, session, query string) (*Turn, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("assistant: query must not be empty")
	}
	log := logging.FromContext(ctx)

	messages := a.buildMessages(ctx, session, query)

	resp, err := a.toolModel.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("assistant: model call failed: %w: %w", ErrGenerationUnavailable, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("assistant: model returned no message: %w", ErrGenerationUnavailable)
	}

	turn, err := a.resolve(ctx, messages, resp, query)
	if err != nil {
		return nil, err
	}

	if a.history != nil && session != "" {
		if err := a.history.Append(ctx, session, history.Turn{Role: history.RoleUser, Content: query}); err != nil {
			log.Warn("history: failed to persist user turn", slog.Any("error", err))
		}
		if err := a.history.Append(ctx, session, history.Turn{
			Role:    history.RoleAssistant,
			Content: turn.Answer,
			Chunks:  turn.Chunks,
		}); err != nil {
			log.Warn("history: failed to persist assistant turn", slog.Any("error", err))
		}
	}

	return turn, nil
}

// resolve classifies the model's first response and runs the matching path.
func (a *Assistant) resolve(ctx context.Context, messages []*schema.Message, resp *schema.Message, query string) (*Turn, error) {
	log := logging.FromContext(ctx)

	if len(resp.ToolCalls) == 0 {
		if resp.Content == "" {
			return nil, fmt.Errorf("assistant: model returned neither text nor a tool call: %w", ErrGenerationUnavailable)
		}
		log.Debug("routing turn", slog.String("path", string(PathDirect)))
		return &Turn{Answer: resp.Content, Path: PathDirect}, nil
	}

	// The model is instructed to select at most one tool per turn. If it
	// returns several, only the first is honoured.
	call := resp.ToolCalls[0]
	if len(resp.ToolCalls) > 1 {
		log.Warn("model requested multiple tools, using the first",
			slog.Int("requested", len(resp.ToolCalls)),
			slog.String("tool", call.Function.Name),
		)
	}

	if call.Function.Name == tools.RetrievalToolName {
		return a.resolveRetrieval(ctx, query)
	}
	return a.resolveStructured(ctx, messages, resp, call)
}

// resolveRetrieval runs the RAG pipeline for the query and synthesizes the
// final answer from the retrieved passages.
func (a *Assistant) resolveRetrieval(ctx context.Context, query string) (*Turn, error) {
	log := logging.FromContext(ctx)

	if a.retriever == nil {
		return nil, fmt.Errorf("assistant: model requested retrieval but no retriever is configured: %w", ErrGenerationUnavailable)
	}

	docs, err := a.retriever.Retrieve(ctx, query, a.recallK, a.rerankK)
	if err != nil {
		return nil, fmt.Errorf("assistant: retrieval failed: %w", err)
	}
	log.Debug("routing turn",
		slog.String("path", string(PathRetrieval)),
		slog.Int("chunks", len(docs)),
	)

	contexts := make([]string, 0, len(docs))
	for _, d := range docs {
		contexts = append(contexts, d.Content)
	}

	answer, err := a.Synthesize(ctx, query, contexts)
	if err != nil {
		return nil, err
	}
	return &Turn{Answer: answer, Chunks: docs, Path: PathRetrieval}, nil
}

// resolveStructured executes the named crop tool and issues the second
// generation call with the tool output appended as a tool-response message.
func (a *Assistant) resolveStructured(ctx context.Context, messages []*schema.Message, resp *schema.Message, call schema.ToolCall) (*Turn, error) {
	log := logging.FromContext(ctx)

	impl, ok := a.tools[call.Function.Name]
	if !ok {
		return nil, fmt.Errorf("assistant: model requested unknown tool %q: %w", call.Function.Name, ErrGenerationUnavailable)
	}

	log.Debug("routing turn",
		slog.String("path", string(PathStructured)),
		slog.String("tool", call.Function.Name),
	)

	result, err := impl.InvokableRun(ctx, call.Function.Arguments)
	if err != nil {
		// Crop tools report data-layer trouble through the sentinel, not an
		// error, so anything surfacing here is unexpected. The turn still
		// proceeds to synthesis with the sentinel.
		log.Warn("tool execution failed, substituting sentinel",
			slog.String("tool", call.Function.Name),
			slog.Any("error", err),
		)
		result = crops.NoMatchSentinel
	}

	followup := make([]*schema.Message, 0, len(messages)+2)
	followup = append(followup, messages...)
	followup = append(followup, resp)
	followup = append(followup, schema.ToolMessage(result, call.ID))

	final, err := a.toolModel.Generate(ctx, followup)
	if err != nil {
		return nil, fmt.Errorf("assistant: final generation failed: %w: %w", ErrGenerationUnavailable, err)
	}
	if final == nil || final.Content == "" {
		return nil, fmt.Errorf("assistant: final generation returned no text: %w", ErrGenerationUnavailable)
	}

	return &Turn{Answer: final.Content, Path: PathStructured}, nil
}

// Synthesize produces a grounded answer for the query from the given context
// passages. The passages are joined with blank lines into a single request
// that instructs the model to answer only from the supplied context. The
// model's text output is returned verbatim.
func (a *Assistant) Synthesize(ctx context.Context, query string, contexts []string) (string, error) {
	joined := strings.Join(contexts, "\n\n")
	if joined == "" {
		joined = noContextText
	}

	messages := []*schema.Message{
		schema.SystemMessage(synthesisPrompt),
		schema.UserMessage(fmt.Sprintf("Context:\n\n%s\n\nQuestion: %s", joined, query)),
	}

	resp, err := a.toolModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("assistant: synthesis failed: %w: %w", ErrGenerationUnavailable, err)
	}
	if resp == nil || resp.Content == "" {
		return "", fmt.Errorf("assistant: synthesis returned no text: %w", ErrGenerationUnavailable)
	}
	return resp.Content, nil
}

// buildMessages constructs the message slice for the first generation call:
// system prompt, trimmed prior turns, then the current user message.
func (a *Assistant) buildMessages(ctx context.Context, session, query string) []*schema.Message {
	log := logging.FromContext(ctx)

	// Inject recent conversation history so the model has multi-turn context.
	// History is trimmed oldest-first to stay within the token budget.
	var historyMsgs []*schema.Message
	if a.history != nil && session != "" {
		prior, err := a.history.Recent(ctx, session, a.historyDepth*2)
		if err != nil {
			log.Warn("history: failed to load prior turns", slog.Any("error", err))
		} else {
			for _, t := range prior {
				switch t.Role {
				case history.RoleUser:
					historyMsgs = append(historyMsgs, schema.UserMessage(t.Content))
				case history.RoleAssistant:
					historyMsgs = append(historyMsgs, schema.AssistantMessage(t.Content, nil))
				}
			}
		}
	}

	fixed := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(query),
	}

	before := len(historyMsgs)
	historyMsgs = budget.TrimHistory(fixed, historyMsgs, a.maxContextTokens)
	if dropped := before - len(historyMsgs); dropped > 0 {
		log.Warn("budget: dropped history turns to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(historyMsgs)),
			slog.Int("max_tokens", a.maxContextTokens),
		)
	}

	result := make([]*schema.Message, 0, 1+len(historyMsgs)+1)
	result = append(result, schema.SystemMessage(systemPrompt))
	result = append(result, historyMsgs...)
	result = append(result, schema.UserMessage(query))
	return result
}
