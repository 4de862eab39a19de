package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rofergon/Hedron/internal/domain"
	"google.golang.org/genai"
)

const (
	roleUser  = "user"
	roleModel = "model"

	defaultGeminiModel = "gemini-2.5-flash"
	defaultMaxHistory  = 40
)

// roundsExhausted is the answer given when the model keeps calling tools.
const roundsExhausted = "I could not finish this request within the allowed number of tool calls. Please try again with a more specific request."

// contentGenerator is the part of genai's Models service the agent uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ThreadStore persists conversation history between turns.
type ThreadStore interface {
	GetThread(ctx context.Context, threadID string) (*domain.Thread, error)
	UpsertThread(ctx context.Context, thread *domain.Thread) error
}

// GeminiConfig tunes the in-process agent.
type GeminiConfig struct {
	APIKey        string
	Model         string
	MaxToolRounds int
	// MaxHistory bounds the stored contents per thread.
	MaxHistory int
}

// GeminiFactory builds in-process agents that run the tool loop against the
// Gemini API.
type GeminiFactory struct {
	gen     contentGenerator
	cfg     GeminiConfig
	tools   ToolProvider
	threads ThreadStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewGeminiFactory connects to the Gemini API. threads may be nil, in which
// case every turn starts without history.
func NewGeminiFactory(ctx context.Context, cfg GeminiConfig, tools ToolProvider, threads ThreadStore, logger *slog.Logger) (*GeminiFactory, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return newGeminiFactory(gc.Models, cfg, tools, threads, logger), nil
}

func newGeminiFactory(gen contentGenerator, cfg GeminiConfig, tools ToolProvider, threads ThreadStore, logger *slog.Logger) *GeminiFactory {
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 6
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiFactory{
		gen:     gen,
		cfg:     cfg,
		tools:   tools,
		threads: threads,
		logger:  logger,
		now:     time.Now,
	}
}

// Build assembles the account's tool-set and returns an agent bound to it.
func (f *GeminiFactory) Build(ctx context.Context, accountID string) (Agent, error) {
	var tools []FunctionTool
	if f.tools != nil {
		var err error
		if tools, err = f.tools(ctx, accountID); err != nil {
			return nil, fmt.Errorf("build tools: %w", err)
		}
	}

	byName := make(map[string]FunctionTool, len(tools))
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.Parameters,
		})
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt(accountID)}},
		},
	}
	if len(decls) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return &geminiAgent{
		factory:   f,
		accountID: accountID,
		tools:     byName,
		config:    config,
	}, nil
}

func systemPrompt(accountID string) string {
	return "You are a DeFi assistant for Hedera account " + accountID + ". " +
		"Use the available tools to answer balance, price and market questions and to prepare transactions. " +
		"Transactions are returned unsigned; the user signs them in their wallet. " +
		"Prepare exactly one transaction per turn and never invent transaction bytes. " +
		"When a tool result includes nextStep, tell the user what will happen after they sign."
}

type geminiAgent struct {
	factory   *GeminiFactory
	accountID string
	tools     map[string]FunctionTool
	config    *genai.GenerateContentConfig

	mu sync.Mutex
}

// Invoke runs the model until it answers without calling tools or the round
// limit is reached.
func (a *geminiAgent) Invoke(ctx context.Context, threadID, instruction string) (*Response, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, ErrEmptyInstruction
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	f := a.factory
	contents := a.loadHistory(ctx, threadID)
	contents = append(contents, &genai.Content{
		Role:  roleUser,
		Parts: []*genai.Part{{Text: instruction}},
	})

	resp := &Response{}
	answered := false
	for round := 0; round < f.cfg.MaxToolRounds; round++ {
		out, err := f.gen.GenerateContent(ctx, f.cfg.Model, contents, a.config)
		if err != nil {
			return nil, fmt.Errorf("generate content: %w", err)
		}
		if len(out.Candidates) == 0 || out.Candidates[0].Content == nil {
			return nil, errors.New("gemini returned no candidates")
		}
		reply := out.Candidates[0].Content
		if reply.Role == "" {
			reply.Role = roleModel
		}
		contents = append(contents, reply)

		calls := functionCalls(reply)
		if len(calls) == 0 {
			resp.Output = replyText(reply)
			answered = true
			break
		}

		parts := make([]*genai.Part, 0, len(calls))
		for _, call := range calls {
			result := a.callTool(ctx, call)
			obs, err := json.Marshal(result)
			if err != nil {
				obs = []byte(`{"error":"unencodable tool result"}`)
			}
			resp.Steps = append(resp.Steps, Step{Tool: call.Name, Observation: string(obs)})
			parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       call.ID,
				Name:     call.Name,
				Response: result,
			}})
		}
		contents = append(contents, &genai.Content{Role: roleUser, Parts: parts})
	}
	if !answered {
		f.logger.Warn("agent tool rounds exhausted",
			"account_id", a.accountID, "thread_id", threadID, "rounds", f.cfg.MaxToolRounds)
		resp.Output = roundsExhausted
	}

	a.saveHistory(ctx, threadID, contents)
	return resp, nil
}

func (a *geminiAgent) callTool(ctx context.Context, call *genai.FunctionCall) map[string]any {
	tool, ok := a.tools[call.Name]
	if !ok {
		return map[string]any{"error": fmt.Sprintf("unknown tool %q", call.Name)}
	}
	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	result, err := tool.Call(ctx, args)
	if err != nil {
		a.factory.logger.Info("tool call failed", "account_id", a.accountID, "tool", call.Name, "error", err)
		return map[string]any{"error": err.Error()}
	}
	if result == nil {
		result = map[string]any{}
	}
	return result
}

func (a *geminiAgent) loadHistory(ctx context.Context, threadID string) []*genai.Content {
	f := a.factory
	if f.threads == nil {
		return nil
	}
	thread, err := f.threads.GetThread(ctx, threadID)
	if err != nil {
		f.logger.Warn("failed to load thread", "thread_id", threadID, "error", err)
		return nil
	}
	if thread == nil || thread.MessagesJSON == "" {
		return nil
	}
	var contents []*genai.Content
	if err := json.Unmarshal([]byte(thread.MessagesJSON), &contents); err != nil {
		f.logger.Warn("discarding unreadable thread history", "thread_id", threadID, "error", err)
		return nil
	}
	return contents
}

func (a *geminiAgent) saveHistory(ctx context.Context, threadID string, contents []*genai.Content) {
	f := a.factory
	if f.threads == nil {
		return
	}
	contents = trimHistory(contents, f.cfg.MaxHistory)
	data, err := json.Marshal(contents)
	if err != nil {
		f.logger.Warn("failed to encode thread history", "thread_id", threadID, "error", err)
		return
	}
	now := f.now()
	err = f.threads.UpsertThread(context.WithoutCancel(ctx), &domain.Thread{
		ThreadID:     threadID,
		AccountID:    a.accountID,
		MessagesJSON: string(data),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		f.logger.Warn("failed to save thread history", "thread_id", threadID, "error", err)
	}
}

// trimHistory keeps at most limit contents, starting at a plain user message
// so no function response is left without its call.
func trimHistory(contents []*genai.Content, limit int) []*genai.Content {
	if len(contents) <= limit {
		return contents
	}
	for start := len(contents) - limit; start < len(contents); start++ {
		if isUserText(contents[start]) {
			return contents[start:]
		}
	}
	return contents[len(contents)-1:]
}

func isUserText(c *genai.Content) bool {
	if c == nil || c.Role != roleUser {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse != nil {
			return false
		}
	}
	return true
}

func functionCalls(c *genai.Content) []*genai.FunctionCall {
	var calls []*genai.FunctionCall
	for _, p := range c.Parts {
		if p != nil && p.FunctionCall != nil {
			calls = append(calls, p.FunctionCall)
		}
	}
	return calls
}

func replyText(c *genai.Content) string {
	var b strings.Builder
	for _, p := range c.Parts {
		if p == nil || p.Thought || p.Text == "" {
			continue
		}
		b.WriteString(p.Text)
	}
	return strings.TrimSpace(b.String())
}
