package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/cropsage/cropsage/internal/history"
	"github.com/cropsage/cropsage/internal/rag"
	"github.com/cropsage/cropsage/internal/tools"
)

// scriptStep is one scripted model response.
type scriptStep struct {
	msg *schema.Message
	err error
}

// fakeChatModel replays a scripted sequence of responses and records the
// message slices it was called with.
type fakeChatModel struct {
	script []scriptStep
	calls  [][]*schema.Message
	bound  []*schema.ToolInfo
}

func (m *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.calls = append(m.calls, input)
	if len(m.script) == 0 {
		return nil, errors.New("fake model: script exhausted")
	}
	step := m.script[0]
	m.script = m.script[1:]
	return step.msg, step.err
}

func (m *fakeChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("fake model: streaming not supported")
}

func (m *fakeChatModel) WithTools(infos []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.bound = infos
	return m, nil
}

// fakeRetriever records its arguments and returns canned documents.
type fakeRetriever struct {
	gotQuery string
	gotK1    int
	gotK2    int
	docs     []rag.Document
	err      error
}

func (r *fakeRetriever) Retrieve(_ context.Context, query string, k1, k2 int) ([]rag.Document, error) {
	r.gotQuery = query
	r.gotK1 = k1
	r.gotK2 = k2
	return r.docs, r.err
}

// fakeCropTool is a minimal invokable tool standing in for the crop query family.
type fakeCropTool struct {
	name    string
	gotArgs string
	out     string
	err     error
	calls   int
}

func (f *fakeCropTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name:        f.name,
		Desc:        "fake crop tool",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}, nil
}

func (f *fakeCropTool) InvokableRun(_ context.Context, args string, _ ...tool.Option) (string, error) {
	f.calls++
	f.gotArgs = args
	return f.out, f.err
}

// fakeHistory records appended turns in memory.
type fakeHistory struct {
	turns     map[string][]history.Turn
	appendErr error
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{turns: map[string][]history.Turn{}}
}

func (h *fakeHistory) Append(_ context.Context, session string, turn history.Turn) error {
	if h.appendErr != nil {
		return h.appendErr
	}
	h.turns[session] = append(h.turns[session], turn)
	return nil
}

func (h *fakeHistory) Recent(_ context.Context, session string, n int) ([]history.Turn, error) {
	t := h.turns[session]
	if len(t) > n {
		t = t[len(t)-n:]
	}
	return t, nil
}

func (h *fakeHistory) Close() error { return nil }

func toolCallMsg(name, args string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{
			{ID: "call-1", Type: "function", Function: schema.FunctionCall{Name: name, Arguments: args}},
		},
	}
}

func newTestAssistant(t *testing.T, m *fakeChatModel, cfg *Config) *Assistant {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ChatModel = m
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new assistant: %v", err)
	}
	return a
}

func Test_Assistant_DirectAnswerSkipsSecondRound(t *testing.T) {
	t.Parallel()

	m := &fakeChatModel{script: []scriptStep{
		{msg: schema.AssistantMessage("howdy, plant parsnips", nil)},
	}}
	h := newFakeHistory()
	a := newTestAssistant(t, m, &Config{History: h})

	turn, err := a.Answer(context.Background(), "s1", "hello there")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if turn.Path != PathDirect {
		t.Errorf("want direct path, got %s", turn.Path)
	}
	if turn.Answer != "howdy, plant parsnips" {
		t.Errorf("answer not verbatim: %q", turn.Answer)
	}
	if len(m.calls) != 1 {
		t.Errorf("direct path must not issue a second model call, got %d", len(m.calls))
	}
	if len(h.turns["s1"]) != 2 {
		t.Errorf("want user+assistant persisted, got %d turns", len(h.turns["s1"]))
	}
}

func Test_Assistant_RetrievalPathUsesDefaults(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{docs: []rag.Document{
		{ID: "a", Content: "ancient fruit keeps producing", Score: 0.9},
		{ID: "b", Content: "greenhouse ignores seasons", Score: 0.7},
	}}
	m := &fakeChatModel{script: []scriptStep{
		{msg: toolCallMsg(tools.RetrievalToolName, "{}")},
		{msg: schema.AssistantMessage("grow ancient fruit in the greenhouse", nil)},
	}}
	h := newFakeHistory()
	a := newTestAssistant(t, m, &Config{Retriever: r, History: h})

	turn, err := a.Answer(context.Background(), "s1", "what should I put in the greenhouse?")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if turn.Path != PathRetrieval {
		t.Errorf("want retrieval path, got %s", turn.Path)
	}
	if r.gotK1 != rag.DefaultRecallK || r.gotK2 != rag.DefaultRerankK {
		t.Errorf("want default k1/k2 %d/%d, got %d/%d", rag.DefaultRecallK, rag.DefaultRerankK, r.gotK1, r.gotK2)
	}
	if r.gotQuery != "what should I put in the greenhouse?" {
		t.Errorf("retriever got wrong query: %q", r.gotQuery)
	}
	if len(turn.Chunks) != 2 {
		t.Errorf("want 2 supporting chunks, got %d", len(turn.Chunks))
	}

	// Second call is the grounded synthesis request carrying the chunk text.
	if len(m.calls) != 2 {
		t.Fatalf("want 2 model calls, got %d", len(m.calls))
	}
	synth := m.calls[1]
	user := synth[len(synth)-1]
	if !strings.Contains(user.Content, "ancient fruit keeps producing") ||
		!strings.Contains(user.Content, "greenhouse ignores seasons") {
		t.Errorf("synthesis request missing chunk context: %q", user.Content)
	}
	if !strings.Contains(user.Content, "what should I put in the greenhouse?") {
		t.Errorf("synthesis request missing the question: %q", user.Content)
	}

	persisted := h.turns["s1"]
	if len(persisted) != 2 || len(persisted[1].Chunks) != 2 {
		t.Errorf("assistant turn should persist its chunks, got %+v", persisted)
	}
}

func Test_Assistant_StructuredPathAppendsToolMessage(t *testing.T) {
	t.Parallel()

	ft := &fakeCropTool{name: "get_crops_by_sellprice", out: "found the following crops:\nname:pumpkin"}
	m := &fakeChatModel{script: []scriptStep{
		{msg: toolCallMsg("get_crops_by_sellprice", `{"season":"fall"}`)},
		{msg: schema.AssistantMessage("pumpkin sells for the most in fall", nil)},
	}}
	a := newTestAssistant(t, m, &Config{Tools: []tool.InvokableTool{ft}})

	turn, err := a.Answer(context.Background(), "", "best fall crop by sale price?")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if turn.Path != PathStructured {
		t.Errorf("want structured path, got %s", turn.Path)
	}
	if turn.Answer != "pumpkin sells for the most in fall" {
		t.Errorf("answer not verbatim: %q", turn.Answer)
	}
	if ft.gotArgs != `{"season":"fall"}` {
		t.Errorf("tool got wrong arguments: %q", ft.gotArgs)
	}

	if len(m.calls) != 2 {
		t.Fatalf("want 2 model calls, got %d", len(m.calls))
	}
	followup := m.calls[1]
	last := followup[len(followup)-1]
	if last.Role != schema.Tool || last.Content != ft.out {
		t.Errorf("want tool-response message with tool output, got role=%s content=%q", last.Role, last.Content)
	}
	if last.ToolCallID != "call-1" {
		t.Errorf("tool message must reference the call id, got %q", last.ToolCallID)
	}
	prev := followup[len(followup)-2]
	if len(prev.ToolCalls) != 1 {
		t.Errorf("assistant tool-call message must precede the tool response")
	}
}

func Test_Assistant_FirstRoundFailureIsGenerationUnavailable(t *testing.T) {
	t.Parallel()

	m := &fakeChatModel{script: []scriptStep{
		{err: errors.New("connection refused")},
	}}
	h := newFakeHistory()
	a := newTestAssistant(t, m, &Config{History: h})

	_, err := a.Answer(context.Background(), "s1", "hello")
	if !errors.Is(err, ErrGenerationUnavailable) {
		t.Fatalf("want ErrGenerationUnavailable, got %v", err)
	}
	if len(h.turns["s1"]) != 0 {
		t.Errorf("failed turn must persist nothing, got %d turns", len(h.turns["s1"]))
	}
}

func Test_Assistant_SecondRoundFailureIsGenerationUnavailable(t *testing.T) {
	t.Parallel()

	ft := &fakeCropTool{name: "get_crops_by_growtime", out: "found the following crops:\nname:parsnip"}
	m := &fakeChatModel{script: []scriptStep{
		{msg: toolCallMsg("get_crops_by_growtime", "{}")},
		{err: errors.New("model overloaded")},
	}}
	h := newFakeHistory()
	a := newTestAssistant(t, m, &Config{Tools: []tool.InvokableTool{ft}, History: h})

	_, err := a.Answer(context.Background(), "s1", "fastest crop?")
	if !errors.Is(err, ErrGenerationUnavailable) {
		t.Fatalf("want ErrGenerationUnavailable, got %v", err)
	}
	if len(h.turns["s1"]) != 0 {
		t.Errorf("failed turn must persist nothing, got %d turns", len(h.turns["s1"]))
	}
}

func Test_Assistant_RetrievalFailurePropagates(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{err: fmt.Errorf("search: %w: qdrant down", rag.ErrRetrievalUnavailable)}
	m := &fakeChatModel{script: []scriptStep{
		{msg: toolCallMsg(tools.RetrievalToolName, "{}")},
	}}
	h := newFakeHistory()
	a := newTestAssistant(t, m, &Config{Retriever: r, History: h})

	_, err := a.Answer(context.Background(), "s1", "how do sprinklers work?")
	if !errors.Is(err, rag.ErrRetrievalUnavailable) {
		t.Fatalf("want ErrRetrievalUnavailable, got %v", err)
	}
	if len(h.turns["s1"]) != 0 {
		t.Errorf("failed turn must persist nothing, got %d turns", len(h.turns["s1"]))
	}
}

func Test_Assistant_EmptyResponseIsUnusable(t *testing.T) {
	t.Parallel()

	m := &fakeChatModel{script: []scriptStep{
		{msg: &schema.Message{Role: schema.Assistant}},
	}}
	a := newTestAssistant(t, m, nil)

	_, err := a.Answer(context.Background(), "", "hello")
	if !errors.Is(err, ErrGenerationUnavailable) {
		t.Fatalf("want ErrGenerationUnavailable for empty response, got %v", err)
	}
}

func Test_Assistant_UnknownToolNameIsUnusable(t *testing.T) {
	t.Parallel()

	m := &fakeChatModel{script: []scriptStep{
		{msg: toolCallMsg("get_crops_by_moonphase", "{}")},
	}}
	a := newTestAssistant(t, m, nil)

	_, err := a.Answer(context.Background(), "", "hello")
	if !errors.Is(err, ErrGenerationUnavailable) {
		t.Fatalf("want ErrGenerationUnavailable for unknown tool, got %v", err)
	}
}

func Test_Assistant_ToolErrorSubstitutesSentinel(t *testing.T) {
	t.Parallel()

	ft := &fakeCropTool{name: "get_crops_by_seedprice", err: errors.New("unexpected")}
	m := &fakeChatModel{script: []scriptStep{
		{msg: toolCallMsg("get_crops_by_seedprice", "{}")},
		{msg: schema.AssistantMessage("no crops matched, try widening the filters", nil)},
	}}
	a := newTestAssistant(t, m, &Config{Tools: []tool.InvokableTool{ft}})

	turn, err := a.Answer(context.Background(), "", "cheapest seeds?")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	followup := m.calls[1]
	last := followup[len(followup)-1]
	if !strings.Contains(last.Content, "no matching crops found") {
		t.Errorf("want sentinel as tool output, got %q", last.Content)
	}
	if turn.Path != PathStructured {
		t.Errorf("want structured path, got %s", turn.Path)
	}
}

func Test_Assistant_BindsAllToolSchemas(t *testing.T) {
	t.Parallel()

	fts := []tool.InvokableTool{
		&fakeCropTool{name: "get_crops_by_sellprice"},
		&fakeCropTool{name: "get_crops_by_dailyrevenue"},
		&fakeCropTool{name: "get_crops_by_seedprice"},
		&fakeCropTool{name: "get_crops_by_growtime"},
	}
	m := &fakeChatModel{}
	newTestAssistant(t, m, &Config{Tools: fts, Retriever: &fakeRetriever{}})

	if len(m.bound) != 5 {
		t.Fatalf("want 4 crop tools + retrieval bound, got %d", len(m.bound))
	}
	names := map[string]bool{}
	for _, info := range m.bound {
		names[info.Name] = true
	}
	if !names[tools.RetrievalToolName] {
		t.Errorf("retrieval pseudo-tool not bound: %v", names)
	}
}

func Test_Assistant_NoRetrieverOmitsPseudoTool(t *testing.T) {
	t.Parallel()

	m := &fakeChatModel{}
	newTestAssistant(t, m, &Config{Tools: []tool.InvokableTool{&fakeCropTool{name: "get_crops_by_sellprice"}}})

	for _, info := range m.bound {
		if info.Name == tools.RetrievalToolName {
			t.Fatalf("retrieval pseudo-tool bound without a retriever")
		}
	}
}

func Test_Assistant_HistoryInjectedBetweenSystemAndUser(t *testing.T) {
	t.Parallel()

	h := newFakeHistory()
	h.turns["s9"] = []history.Turn{
		{Role: history.RoleUser, Content: "earlier question"},
		{Role: history.RoleAssistant, Content: "earlier answer"},
	}
	m := &fakeChatModel{script: []scriptStep{
		{msg: schema.AssistantMessage("sure", nil)},
	}}
	a := newTestAssistant(t, m, &Config{History: h})

	if _, err := a.Answer(context.Background(), "s9", "follow-up"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	msgs := m.calls[0]
	if len(msgs) != 4 {
		t.Fatalf("want system+2 history+user, got %d messages", len(msgs))
	}
	if msgs[0].Role != schema.System {
		t.Errorf("first message must be the system prompt")
	}
	if msgs[1].Content != "earlier question" || msgs[2].Content != "earlier answer" {
		t.Errorf("history not injected in order: %q / %q", msgs[1].Content, msgs[2].Content)
	}
	if msgs[3].Role != schema.User || msgs[3].Content != "follow-up" {
		t.Errorf("last message must be the current query")
	}
}

func Test_Assistant_EmptyQueryRejected(t *testing.T) {
	t.Parallel()

	a := newTestAssistant(t, &fakeChatModel{}, nil)
	if _, err := a.Answer(context.Background(), "", "   "); err == nil {
		t.Fatal("want error for blank query")
	}
}

func Test_Synthesize_JoinsContextWithBlankLines(t *testing.T) {
	t.Parallel()

	m := &fakeChatModel{script: []scriptStep{
		{msg: schema.AssistantMessage("water daily", nil)},
	}}
	a := newTestAssistant(t, m, nil)

	out, err := a.Synthesize(context.Background(), "how often to water?", []string{"first passage", "second passage"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if out != "water daily" {
		t.Errorf("output not verbatim: %q", out)
	}
	user := m.calls[0][len(m.calls[0])-1]
	if !strings.Contains(user.Content, "first passage\n\nsecond passage") {
		t.Errorf("contexts not blank-line joined: %q", user.Content)
	}
}

func Test_Synthesize_FailureIsGenerationUnavailable(t *testing.T) {
	t.Parallel()

	m := &fakeChatModel{script: []scriptStep{
		{err: errors.New("timeout")},
	}}
	a := newTestAssistant(t, m, nil)

	_, err := a.Synthesize(context.Background(), "q", []string{"ctx"})
	if !errors.Is(err, ErrGenerationUnavailable) {
		t.Fatalf("want ErrGenerationUnavailable, got %v", err)
	}
}
