package llm

import (
	"context"
	"fmt"
)

// geminiClient talks to the Google Generative Language API. Gemini serves
// only chat-backed operations here (expansion, LLM-as-reranker); it has no
// embedding or dedicated rerank role in the provider table.
type geminiClient struct {
	t       *transport
	baseURL string
	apiKey  string
	model   string
}

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerateRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (c *geminiClient) name() string { return "gemini" }

func (c *geminiClient) chat(ctx context.Context, system, user string) (string, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req := geminiGenerateRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: user}}}},
	}
	if system != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	var resp geminiGenerateResponse
	if err := c.t.postJSON(ctx, c.name(), OpGenerate, url, nil, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%s: empty generate response", c.name())
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

var _ chatter = (*geminiClient)(nil)
