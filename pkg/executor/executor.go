package executor

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/hypertrader/sentinel/pkg/llm"
	"github.com/hypertrader/sentinel/pkg/market"
)

// Executor defines the decision engine interface: render a prompt from
// market/account context, call the LLM, and hand back a validated decision.
type Executor interface {
	GetFullDecision(input *Context) (*FullDecision, error)
	UpdatePerformance(view *PerformanceView)
	GetConfig() *Config
}

// BasicExecutor wires config, prompt rendering, the LLM client and the
// validation/failure-tracking state that makes up one trader's decision loop.
type BasicExecutor struct {
	cfg           *Config
	llm           llm.LLMClient
	renderer      *PromptRenderer
	performance   *PerformanceView
	modelAlias    string
	failures      map[string]int
	conversations ConversationRecorder
}

// NewExecutor constructs a BasicExecutor. templatePath points at the prompt
// template the caller wants this executor to render.
func NewExecutor(cfg *Config, client llm.LLMClient, templatePath string, modelAlias string, opts ...ExecutorOption) (*BasicExecutor, error) {
	if cfg == nil {
		return nil, errors.New("executor: config is required")
	}
	if client == nil {
		return nil, errors.New("executor: llm client is required")
	}
	renderer, err := NewPromptRenderer(cfg, templatePath)
	if err != nil {
		return nil, err
	}
	exec := &BasicExecutor{
		cfg:           cfg,
		llm:           client,
		renderer:      renderer,
		modelAlias:    strings.TrimSpace(modelAlias),
		failures:      make(map[string]int),
		conversations: noopConversationRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(exec)
		}
	}
	if exec.conversations == nil {
		exec.conversations = noopConversationRecorder{}
	}
	return exec, nil
}

func (e *BasicExecutor) GetConfig() *Config { return e.cfg }

func (e *BasicExecutor) UpdatePerformance(view *PerformanceView) { e.performance = view }

// GetFullDecision renders the prompt, asks the LLM for a structured decision,
// then validates and maps it into the internal Decision shape. A decision
// that fails validation is still returned (for callers that want to inspect
// or log it) alongside the validation error.
func (e *BasicExecutor) GetFullDecision(input *Context) (*FullDecision, error) {
	if e == nil || e.renderer == nil {
		return nil, errors.New("executor: not initialised")
	}
	if input == nil {
		return nil, errors.New("executor: input context is required")
	}

	e.logInputWarnings(input)

	promptStr, digest, err := e.renderPrompt(input)
	if err != nil {
		return nil, err
	}

	out, resp, err := e.callLLM(promptStr, digest)
	if err != nil {
		return &FullDecision{UserPrompt: promptStr, Timestamp: time.Now()}, err
	}
	e.recordConversation(context.Background(), promptStr, resp)

	mapped := mapDecisionContract(out, input.Positions)
	if err := ValidateDecisions(e.cfg, input, []Decision{mapped}); err != nil {
		e.trackFailure(mapped.Symbol, err)
		return &FullDecision{UserPrompt: promptStr, Decisions: []Decision{mapped}, Timestamp: time.Now()}, err
	}
	e.resetFailure(mapped.Symbol)
	logx.Infof("executor: decision validated digest=%s symbol=%s action=%s notional=%.2f confidence=%d",
		digest, mapped.Symbol, mapped.Action, mapped.PositionSizeUSD, mapped.Confidence)

	return &FullDecision{
		UserPrompt: promptStr,
		Decisions:  []Decision{mapped},
		Timestamp:  time.Now(),
	}, nil
}

// renderPrompt builds the template inputs from input plus the executor's
// cached performance view and config-level leverage caps, then renders them.
func (e *BasicExecutor) renderPrompt(input *Context) (prompt string, digest string, err error) {
	inputs := buildPromptInputs(e.cfg, &Context{
		CurrentTime:       input.CurrentTime,
		RuntimeMinutes:    input.RuntimeMinutes,
		CallCount:         input.CallCount,
		Account:           input.Account,
		Positions:         input.Positions,
		CandidateCoins:    input.CandidateCoins,
		MarketDataMap:     input.MarketDataMap,
		OpenInterestMap:   input.OpenInterestMap,
		Performance:       condPerf(e.performance),
		MajorCoinLeverage: e.cfg.MajorCoinLeverage,
		AltcoinLeverage:   e.cfg.AltcoinLeverage,
	})

	prompt, err = e.renderer.Render(inputs)
	if err != nil {
		return "", "", err
	}
	digest = llm.DigestString(prompt)
	if e.modelAlias != "" {
		logx.Infof("executor: prompt rendered digest=%s candidates=%d positions=%d runtime_minutes=%d model=%s",
			digest, len(input.CandidateCoins), len(input.Positions), input.RuntimeMinutes, e.modelAlias)
	} else {
		logx.Infof("executor: prompt rendered digest=%s candidates=%d positions=%d runtime_minutes=%d",
			digest, len(input.CandidateCoins), len(input.Positions), input.RuntimeMinutes)
	}
	return prompt, digest, nil
}

// callLLM issues the structured chat request and decodes it into the
// package-level decision contract shared with mapDecisionContract.
func (e *BasicExecutor) callLLM(promptStr, digest string) (decisionContract, *llm.ChatResponse, error) {
	req := &llm.ChatRequest{
		Messages: []llm.Message{{Role: "system", Content: promptStr}},
	}
	if e.modelAlias != "" {
		req.Model = e.modelAlias
	}

	var out decisionContract
	callCtx, cancel := context.WithTimeout(context.Background(), e.cfg.DecisionTimeout)
	defer cancel()
	start := time.Now()
	raw, err := e.llm.ChatStructured(callCtx, req, &out)
	if err != nil {
		logx.WithContext(callCtx).Errorf("executor: chat failed digest=%s duration=%s error=%v", digest, time.Since(start), err)
		return decisionContract{}, nil, err
	}
	logx.WithContext(callCtx).Infof("executor: chat completed digest=%s duration=%s", digest, time.Since(start))
	resp, _ := raw.(*llm.ChatResponse)
	return out, resp, nil
}

func condPerf(p *PerformanceView) *PerformanceView {
	if p != nil {
		return p
	}
	return &PerformanceView{}
}

// marketAnomalyThresholds bounds the checks logInputWarnings runs against
// each symbol's market snapshot.
const (
	changeOneHourAnomalyPct  = 0.05 // fraction move (~5%) within 1 hour
	changeFourHourAnomalyPct = 0.10 // fraction move (~10%) within 4 hours
	fundingAnomalyThreshold  = 0.01 // funding rate (decimal form)
)

func (e *BasicExecutor) logInputWarnings(input *Context) {
	if input == nil {
		return
	}
	for sym, snap := range input.MarketDataMap {
		warnAboutSnapshot(sym, snap)
	}

	if input.Account.TotalEquity <= 0 {
		logx.Slowf("executor: account equity non-positive equity=%.2f", input.Account.TotalEquity)
	}
	warnAboutDuplicatePositions(input.Positions)
	if len(input.CandidateCoins) == 0 && len(input.Positions) > 0 {
		logx.Slowf("executor: no candidates provided while %d positions open", len(input.Positions))
	}
}

func warnAboutSnapshot(sym string, snap *market.Snapshot) {
	if snap == nil {
		return
	}
	if math.Abs(snap.Change.OneHour) > changeOneHourAnomalyPct {
		logx.Slowf("executor: market change anomaly symbol=%s change_1h=%.4f change_4h=%.4f", sym, snap.Change.OneHour, snap.Change.FourHour)
	}
	if math.Abs(snap.Change.FourHour) > changeFourHourAnomalyPct {
		logx.Slowf("executor: market 4h change anomaly symbol=%s change_4h=%.4f", sym, snap.Change.FourHour)
	}
	if snap.Price.Last <= 0 {
		logx.Slowf("executor: non-positive price symbol=%s price=%f", sym, snap.Price.Last)
	}
	if snap.Funding != nil && math.Abs(snap.Funding.Rate) > fundingAnomalyThreshold {
		logx.Slowf("executor: funding anomaly symbol=%s funding=%.6f", sym, snap.Funding.Rate)
	}
	checkIndicators(sym, snap)
}

func warnAboutDuplicatePositions(positions []PositionInfo) {
	seen := make(map[string]struct{}, len(positions))
	for _, pos := range positions {
		if _, exists := seen[pos.Symbol]; exists {
			logx.Slowf("executor: duplicate position detected symbol=%s", pos.Symbol)
		}
		seen[pos.Symbol] = struct{}{}
	}
}

func (e *BasicExecutor) recordConversation(ctx context.Context, prompt string, resp *llm.ChatResponse) {
	if e == nil || e.conversations == nil || resp == nil || e.cfg == nil || strings.TrimSpace(e.cfg.TraderID) == "" {
		return
	}
	if len(resp.Choices) == 0 {
		return
	}
	rec := ConversationRecord{
		ModelID:          e.cfg.TraderID,
		Prompt:           prompt,
		PromptTokens:     resp.Usage.PromptTokens,
		Response:         strings.TrimSpace(resp.Choices[0].Message.Content),
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		ModelName:        resp.Model,
		Timestamp:        time.Now(),
	}
	if err := e.conversations.RecordConversation(ctx, rec); err != nil {
		logx.WithContext(ctx).Errorf("executor: record conversation failed trader=%s err=%v", e.cfg.TraderID, err)
	}
}

func checkIndicators(symbol string, snap *market.Snapshot) {
	if snap == nil {
		return
	}
	if len(snap.Indicators.EMA) == 0 && len(snap.Indicators.RSI) == 0 && snap.Indicators.MACD == 0 {
		logx.Slowf("executor: indicators missing for symbol=%s", symbol)
	}
	for key, value := range snap.Indicators.RSI {
		if value < 0 || value > 100 {
			logx.Slowf("executor: RSI anomaly symbol=%s interval=%s value=%.2f", symbol, key, value)
		}
	}
}

// trackFailure and resetFailure de-duplicate repeated validation failures on
// the same symbol (or error message, if the symbol is blank) so a run of
// identical rejections logs once loudly instead of once per cycle.
func (e *BasicExecutor) trackFailure(symbol string, err error) {
	if e.failures == nil {
		e.failures = make(map[string]int)
	}
	key := normalizeFailureKey(symbol, err)
	if key == "" {
		return
	}
	e.failures[key]++
	count := e.failures[key]
	logx.Errorf("executor: decision validation failed key=%s symbol=%s error=%v count=%d", key, symbol, err, count)
	if count >= 3 {
		logx.Slowf("executor: repeated validation failures key=%s count=%d last_error=%v", key, count, err)
	}
}

func (e *BasicExecutor) resetFailure(symbol string) {
	if e.failures == nil {
		return
	}
	key := normalizeFailureKey(symbol, nil)
	if key == "" {
		return
	}
	delete(e.failures, key)
}

func normalizeFailureKey(symbol string, err error) string {
	if key := strings.ToUpper(strings.TrimSpace(symbol)); key != "" {
		return key
	}
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	if len(msg) > 64 {
		msg = msg[:64]
	}
	if msg == "" {
		return ""
	}
	return "ERR:" + msg
}
