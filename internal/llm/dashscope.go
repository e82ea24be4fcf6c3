package llm

import "context"

// dashscopeClient talks to Alibaba DashScope's text-rerank service. It is a
// rerank-only provider.
type dashscopeClient struct {
	t       *transport
	baseURL string
	apiKey  string
	model   string
}

const defaultDashScopeBaseURL = "https://dashscope.aliyuncs.com/api/v1"

type dashscopeRerankRequest struct {
	Model string `json:"model"`
	Input struct {
		Query     string   `json:"query"`
		Documents []string `json:"documents"`
	} `json:"input"`
	Parameters struct {
		TopN            int  `json:"top_n"`
		ReturnDocuments bool `json:"return_documents"`
	} `json:"parameters"`
}

type dashscopeRerankResponse struct {
	Output struct {
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		} `json:"results"`
	} `json:"output"`
}

func (c *dashscopeClient) name() string { return "dashscope" }

func (c *dashscopeClient) rerank(ctx context.Context, query string, documents []string, topN int) ([]indexScore, error) {
	req := dashscopeRerankRequest{Model: c.model}
	req.Input.Query = query
	req.Input.Documents = documents
	req.Parameters.TopN = topN
	req.Parameters.ReturnDocuments = false

	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	var resp dashscopeRerankResponse
	url := c.baseURL + "/services/rerank/text-rerank/text-rerank"
	if err := c.t.postJSON(ctx, c.name(), OpRerank, url, headers, req, &resp); err != nil {
		return nil, err
	}

	out := make([]indexScore, 0, len(resp.Output.Results))
	for _, r := range resp.Output.Results {
		out = append(out, indexScore{Index: r.Index, Score: r.RelevanceScore})
	}
	return out, nil
}

var _ rerankAPI = (*dashscopeClient)(nil)
