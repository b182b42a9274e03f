package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/spindle/internal/grammar"
	"github.com/samcharles93/spindle/internal/inference"
)

// CompletionRequest is an OpenAI-compatible completion request with the
// llama.cpp sampling extensions.
type CompletionRequest struct {
	Model     string  `json:"model"`
	Prompt    any     `json:"prompt"`
	Suffix    *string `json:"suffix,omitempty"`
	MaxTokens *int    `json:"max_tokens,omitempty"`
	Stop      any     `json:"stop,omitempty"`
	Stream    bool    `json:"stream,omitempty"`
	Echo      *bool   `json:"echo,omitempty"`
	Logprobs  *int    `json:"logprobs,omitempty"`
	Seed      *int64  `json:"seed,omitempty"`
	N         *int    `json:"n,omitempty"`
	BestOf    *int    `json:"best_of,omitempty"`
	User      string  `json:"user,omitempty"`

	Temperature      *float64 `json:"temperature,omitempty"`
	TopK             *int     `json:"top_k,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	MinP             *float64 `json:"min_p,omitempty"`
	TypicalP         *float64 `json:"typical_p,omitempty"`
	TfsZ             *float64 `json:"tfs_z,omitempty"`
	RepeatPenalty    *float64 `json:"repeat_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	PenalizeNewline  *bool    `json:"penalize_nl,omitempty"`
	Mirostat         *int     `json:"mirostat_mode,omitempty"`
	MirostatTau      *float64 `json:"mirostat_tau,omitempty"`
	MirostatEta      *float64 `json:"mirostat_eta,omitempty"`

	// LogitBias maps token ids, as strings, to an additive bias.
	LogitBias map[string]float32 `json:"logit_bias,omitempty"`
	// Grammar is GBNF source or a compiled rule table.
	Grammar     json.RawMessage `json:"grammar,omitempty"`
	GrammarMode *string         `json:"grammar_mode,omitempty"`
}

type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   *CompletionUsage   `json:"usage,omitempty"`
}

type CompletionChoice struct {
	Text         string        `json:"text"`
	Index        int           `json:"index"`
	Logprobs     *LogprobsBody `json:"logprobs"`
	FinishReason *string       `json:"finish_reason"`
}

type LogprobsBody struct {
	Tokens        []string             `json:"tokens"`
	TokenLogprobs []float32            `json:"token_logprobs"`
	TopLogprobs   []map[string]float32 `json:"top_logprobs"`
	TextOffset    []int                `json:"text_offset"`
}

type CompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (s *Server) handleCompletions(c *echo.Context) error {
	req, err := decodeJSON[CompletionRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	opts, err := req.options()
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Stream {
		return s.streamCompletion(c, req, opts)
	}

	var out *inference.Completion
	err = s.provider.WithEngine(c.Request().Context(), req.Model, func(engine *inference.Engine, defaults inference.GenDefaults) error {
		creq, err := resolve(engine, opts, req.LogitBias, defaults)
		if err != nil {
			return err
		}
		out, err = engine.Complete(c.Request().Context(), creq, nil)
		return err
	})
	if err != nil {
		return writeEngineError(c, err)
	}

	finish := out.FinishReason
	return c.JSON(http.StatusOK, CompletionResponse{
		ID:      out.ID,
		Object:  "text_completion",
		Created: out.Created,
		Model:   out.Model,
		Choices: []CompletionChoice{{
			Text:         out.Text,
			Logprobs:     logprobsBody(out.Logprobs),
			FinishReason: &finish,
		}},
		Usage: &CompletionUsage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	})
}

// streamCompletion answers with server-sent events. Errors raised before the
// first chunk still get a regular JSON error response.
func (s *Server) streamCompletion(c *echo.Context, req CompletionRequest, opts inference.CompletionOptions) error {
	res := c.Response()
	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return writeBadRequest(c, "streaming unsupported")
	}

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set("Cache-Control", "no-cache")
		res.Header().Set("Connection", "keep-alive")
		res.WriteHeader(http.StatusOK)
	}

	ctx := c.Request().Context()
	err := s.provider.WithEngine(ctx, req.Model, func(engine *inference.Engine, defaults inference.GenDefaults) error {
		creq, err := resolve(engine, opts, req.LogitBias, defaults)
		if err != nil {
			return err
		}
		for chunk, err := range engine.Stream(ctx, creq) {
			if err != nil {
				return err
			}
			start()
			var finish *string
			if chunk.FinishReason != "" {
				finish = &chunk.FinishReason
			}
			body := CompletionResponse{
				ID:      chunk.ID,
				Object:  "text_completion",
				Created: chunk.Created,
				Model:   chunk.Model,
				Choices: []CompletionChoice{{
					Text:         chunk.Text,
					Logprobs:     logprobsBody(chunk.Logprobs),
					FinishReason: finish,
				}},
			}
			if err := sendSSEChunk(res, body); err != nil {
				return err
			}
			flusher.Flush()
		}
		return nil
	})
	if err != nil && !started {
		return writeEngineError(c, err)
	}
	if err != nil {
		_, typ := classify(err)
		_ = sendSSEChunk(res, errorResponse{Error: ErrorBody{Message: err.Error(), Type: typ}})
	}
	_, _ = fmt.Fprint(res, "data: [DONE]\n\n")
	flusher.Flush()
	return nil
}

func sendSSEChunk(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

// options converts the parts of the request that need no engine.
func (r CompletionRequest) options() (inference.CompletionOptions, error) {
	if r.N != nil && *r.N != 1 {
		return inference.CompletionOptions{}, fmt.Errorf("n must be 1")
	}
	if r.BestOf != nil && *r.BestOf != 1 {
		return inference.CompletionOptions{}, fmt.Errorf("best_of must be 1")
	}
	prompt, err := singleString(r.Prompt, "prompt")
	if err != nil {
		return inference.CompletionOptions{}, err
	}
	stop, err := stringList(r.Stop, "stop")
	if err != nil {
		return inference.CompletionOptions{}, err
	}
	rules, err := parseGrammar(r.Grammar)
	if err != nil {
		return inference.CompletionOptions{}, err
	}

	opts := inference.CompletionOptions{
		Prompt:           prompt,
		Suffix:           r.Suffix,
		Stop:             stop,
		MaxTokens:        r.MaxTokens,
		Logprobs:         r.Logprobs,
		Echo:             r.Echo,
		Seed:             r.Seed,
		Temperature:      r.Temperature,
		TopK:             r.TopK,
		TopP:             r.TopP,
		MinP:             r.MinP,
		TypicalP:         r.TypicalP,
		TailFreeZ:        r.TfsZ,
		RepeatPenalty:    r.RepeatPenalty,
		FrequencyPenalty: r.FrequencyPenalty,
		PresencePenalty:  r.PresencePenalty,
		PenalizeNewline:  r.PenalizeNewline,
		Mirostat:         r.Mirostat,
		MirostatTau:      r.MirostatTau,
		MirostatEta:      r.MirostatEta,
		Grammar:          rules,
		GrammarMode:      r.GrammarMode,
	}
	if r.Model != "" {
		opts.Model = &r.Model
	}
	return opts, nil
}

// resolve finishes the options against the engine that will run them.
func resolve(engine *inference.Engine, opts inference.CompletionOptions, bias map[string]float32, defaults inference.GenDefaults) (inference.CompletionRequest, error) {
	if len(bias) > 0 {
		vocab := engine.Metadata().Vocab
		opts.LogitBias = make(map[int]float32, len(bias))
		for k, v := range bias {
			id, err := strconv.Atoi(k)
			if err != nil || id < 0 || id >= vocab {
				return inference.CompletionRequest{}, newInvalidRequest(fmt.Sprintf("logit_bias: invalid token id %q", k))
			}
			opts.LogitBias[id] = v
		}
	}
	return inference.ResolveCompletion(opts, defaults)
}

func parseGrammar(raw json.RawMessage) (*grammar.Rules, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var src string
		if err := json.Unmarshal(raw, &src); err != nil {
			return nil, fmt.Errorf("grammar: %w", err)
		}
		if src == "" {
			return nil, nil
		}
		rules, err := grammar.Parse(src)
		if err != nil {
			return nil, fmt.Errorf("grammar: %w", err)
		}
		return rules, nil
	}
	rules, err := grammar.LoadJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("grammar: %w", err)
	}
	return rules, nil
}

func singleString(v any, field string) (string, error) {
	list, err := stringList(v, field)
	if err != nil {
		return "", err
	}
	switch len(list) {
	case 0:
		return "", nil
	case 1:
		return list[0], nil
	}
	return "", fmt.Errorf("%s: only one prompt is supported", field)
}

func stringList(v any, field string) ([]string, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s: expected string or array of strings", field)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s: expected string or array of strings", field)
}

func logprobsBody(lp *inference.Logprobs) *LogprobsBody {
	if lp == nil {
		return nil
	}
	return &LogprobsBody{
		Tokens:        lp.Tokens,
		TokenLogprobs: lp.TokenLogprobs,
		TopLogprobs:   lp.TopLogprobs,
		TextOffset:    lp.TextOffset,
	}
}
