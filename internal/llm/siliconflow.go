package llm

import (
	"context"
	"fmt"
)

// siliconflowClient talks to the SiliconFlow API: OpenAI-shaped embeddings
// and chat completions plus a dedicated rerank endpoint.
type siliconflowClient struct {
	t           *transport
	baseURL     string
	apiKey      string
	embedModel  string
	chatModel   string
	rerankModel string
}

const defaultSiliconFlowBaseURL = "https://api.siliconflow.cn/v1"

func (c *siliconflowClient) name() string { return "siliconflow" }

func (c *siliconflowClient) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

func (c *siliconflowClient) embed(ctx context.Context, texts []string) ([][]float32, error) {
	req := openaiEmbedRequest{Model: c.embedModel, Input: texts}
	var resp openaiEmbedResponse
	if err := c.t.postJSON(ctx, c.name(), OpEmbed, c.baseURL+"/embeddings", c.headers(), req, &resp); err != nil {
		return nil, err
	}
	return orderEmbeddings(resp, len(texts))
}

func (c *siliconflowClient) chat(ctx context.Context, system, user string) (string, error) {
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

type siliconflowRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type siliconflowRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (c *siliconflowClient) rerank(ctx context.Context, query string, documents []string, topN int) ([]indexScore, error) {
	req := siliconflowRerankRequest{
		Model:     c.rerankModel,
		Query:     query,
		Documents: documents,
		TopN:      topN,
	}
	var resp siliconflowRerankResponse
	if err := c.t.postJSON(ctx, c.name(), OpRerank, c.baseURL+"/rerank", c.headers(), req, &resp); err != nil {
		return nil, err
	}
	out := make([]indexScore, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, indexScore{Index: r.Index, Score: r.RelevanceScore})
	}
	return out, nil
}

var (
	_ embedder  = (*siliconflowClient)(nil)
	_ chatter   = (*siliconflowClient)(nil)
	_ rerankAPI = (*siliconflowClient)(nil)
)
