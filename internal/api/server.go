// Package api serves an OpenAI-style completions API over echo.
package api

import (
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/spindle/internal/inference"
	"github.com/samcharles93/spindle/internal/metrics"
)

type Server struct {
	provider EngineProvider
	clock    func() time.Time
}

func NewServer(provider EngineProvider) *Server {
	return &Server{
		provider: provider,
		clock:    time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/completions", s.handleCompletions)
	e.GET("/v1/models", s.handleListModels)
	e.POST("/v1/tokenize", s.handleTokenize)
	e.POST("/v1/detokenize", s.handleDetokenize)
	e.GET("/health", s.handleHealth)
	e.GET("/metrics", func(c *echo.Context) error {
		metrics.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListModels(c *echo.Context) error {
	modelIDs := []string{ToyModel}
	if lister, ok := s.provider.(interface{ ListModels() ([]string, error) }); ok {
		discovered, err := lister.ListModels()
		if err != nil {
			return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "")
		}
		if len(discovered) > 0 {
			modelIDs = discovered
		}
	}

	created := s.clock().Unix()
	data := make([]ModelCard, 0, len(modelIDs))
	for _, id := range modelIDs {
		data = append(data, ModelCard{ID: id, Object: "model", Created: created, OwnedBy: "local"})
	}
	return c.JSON(http.StatusOK, ModelList{Object: "list", Data: data})
}

type ModelCard struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelCard `json:"data"`
}

type TokenizeRequest struct {
	Model   string `json:"model,omitempty"`
	Content string `json:"content"`
	AddBOS  *bool  `json:"add_bos,omitempty"`
	Special *bool  `json:"special,omitempty"`
}

type TokenizeResponse struct {
	Tokens []int `json:"tokens"`
}

type DetokenizeRequest struct {
	Model  string `json:"model,omitempty"`
	Tokens []int  `json:"tokens"`
}

type DetokenizeResponse struct {
	Content string `json:"content"`
}

func (s *Server) handleTokenize(c *echo.Context) error {
	req, err := decodeJSON[TokenizeRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	addBOS := req.AddBOS != nil && *req.AddBOS
	special := req.Special == nil || *req.Special

	var out TokenizeResponse
	err = s.provider.WithEngine(c.Request().Context(), req.Model, func(engine *inference.Engine, _ inference.GenDefaults) error {
		ids, err := engine.Tokenize([]byte(req.Content), addBOS, special)
		out.Tokens = ids
		return err
	})
	if err != nil {
		return writeEngineError(c, err)
	}
	if out.Tokens == nil {
		out.Tokens = []int{}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleDetokenize(c *echo.Context) error {
	req, err := decodeJSON[DetokenizeRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	var out DetokenizeResponse
	err = s.provider.WithEngine(c.Request().Context(), req.Model, func(engine *inference.Engine, _ inference.GenDefaults) error {
		vocab := engine.Metadata().Vocab
		for _, id := range req.Tokens {
			if id < 0 || id >= vocab {
				return newInvalidRequest("token id out of range")
			}
		}
		text, err := engine.Detokenize(req.Tokens)
		out.Content = string(text)
		return err
	})
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
