package llm

import (
	"context"
	"fmt"
)

// Wire shapes shared by every OpenAI-compatible endpoint.

type openaiEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type openaiChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatRequest struct {
	Model    string              `json:"model"`
	Messages []openaiChatMessage `json:"messages"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message openaiChatMessage `json:"message"`
	} `json:"choices"`
}

// orderEmbeddings maps a response onto input order using the per-item index.
func orderEmbeddings(resp openaiEmbedResponse, n int) ([][]float32, error) {
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	out := make([][]float32, n)
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= n {
			continue
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// openaiClient talks to any OpenAI-compatible endpoint (OpenAI itself, or a
// self-hosted gateway speaking the same protocol).
type openaiClient struct {
	t          *transport
	baseURL    string
	apiKey     string
	embedModel string
	chatModel  string
}

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

func (c *openaiClient) name() string { return "openai-compat" }

func (c *openaiClient) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

func (c *openaiClient) embed(ctx context.Context, texts []string) ([][]float32, error) {
	req := openaiEmbedRequest{Model: c.embedModel, Input: texts}
	var resp openaiEmbedResponse
	if err := c.t.postJSON(ctx, c.name(), OpEmbed, c.baseURL+"/embeddings", c.headers(), req, &resp); err != nil {
		return nil, err
	}
	return orderEmbeddings(resp, len(texts))
}

func (c *openaiClient) chat(ctx context.Context, system, user string) (string, error) {
	req := openaiChatRequest{
		Model: c.chatModel,
		Messages: []openaiChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	var resp openaiChatResponse
	if err := c.t.postJSON(ctx, c.name(), OpGenerate, c.baseURL+"/chat/completions", c.headers(), req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: empty chat response", c.name())
	}
	return resp.Choices[0].Message.Content, nil
}

var (
	_ embedder = (*openaiClient)(nil)
	_ chatter  = (*openaiClient)(nil)
)
