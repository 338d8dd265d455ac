package azure

import "encoding/json"

// EmbeddingRequest is the body of an embeddings call.
type EmbeddingRequest struct {
	Input string `json:"input"`
}

// EmbeddingResponse holds the vectors returned for an embeddings call.
type EmbeddingResponse struct {
	Data []EmbeddingData `json:"data"`
}

// EmbeddingData is a single embedding.
type EmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// VectorQuery selects the k nearest neighbours of Value in Fields.
type VectorQuery struct {
	Value  []float64 `json:"value"`
	Fields string    `json:"fields"`
	K      int       `json:"k"`
}

// SearchRequest is the body of a vector search call.
type SearchRequest struct {
	Vector VectorQuery `json:"vector"`
	Select string      `json:"select"`
}

// SearchResponse is the ranked result list of a vector search call. Items
// are kept raw so one malformed document cannot fail the whole batch.
type SearchResponse struct {
	Value []json.RawMessage `json:"value"`
}

// Texts returns the content of each item in rank order. An item that is not
// an object, or whose content is missing or not a string, yields "".
func (r SearchResponse) Texts() []string {
	docs := make([]string, len(r.Value))
	for i, raw := range r.Value {
		docs[i] = parseSearchResult(raw).Text()
	}
	return docs
}

// SearchResult is a single ranked document. Content is a pointer so that a
// missing field can be told apart from an empty one.
type SearchResult struct {
	Content *string `json:"content,omitempty"`
	Score   float64 `json:"@search.score,omitempty"`
}

// Text returns the document content, or "" when the item has none.
func (r SearchResult) Text() string {
	if r.Content == nil {
		return ""
	}
	return *r.Content
}

// parseSearchResult decodes the fields of one item independently, so a bad
// score does not hide good content and vice versa.
func parseSearchResult(raw json.RawMessage) SearchResult {
	var fields struct {
		Content json.RawMessage `json:"content"`
		Score   json.RawMessage `json:"@search.score"`
	}
	var out SearchResult
	if err := json.Unmarshal(raw, &fields); err != nil {
		return out
	}
	var content string
	if len(fields.Content) > 0 && json.Unmarshal(fields.Content, &content) == nil {
		out.Content = &content
	}
	if len(fields.Score) > 0 {
		_ = json.Unmarshal(fields.Score, &out.Score)
	}
	return out
}

// Message is a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the body of a chat completions call.
type ChatCompletionRequest struct {
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// ChatCompletionResponse holds the generated choices.
type ChatCompletionResponse struct {
	ID      string   `json:"id,omitempty"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice is a single generated answer.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
