package domain

// AttentionPattern is the weighted focus plus predicted-next symbols
// produced per query by the attention retriever.
type AttentionPattern struct {
	FocusedSymbols map[UnitID]float64 `json:"focused_symbols"`
	PredictedNext  []UnitID           `json:"predicted_next"`
}

// QueryContext carries the symbols an incoming query is anchored on.
type QueryContext struct {
	Symbols []UnitID `json:"symbols"`
	Text    string   `json:"text,omitempty"`
}

// RetrievalBucket buckets a predicted symbol by confidence per spec 4.6.4.
type RetrievalBucket string

const (
	BucketHigh    RetrievalBucket = "high"
	BucketMedium  RetrievalBucket = "medium"
	BucketContext RetrievalBucket = "context"
)

// RetrievalResult is the output of the attention retriever's pipeline.
type RetrievalResult struct {
	High        []UnitID `json:"high_attention"`
	Medium      []UnitID `json:"medium_attention"`
	Context     []UnitID `json:"context_attention"`
	TotalTokens int      `json:"total_tokens"`
	Truncated   bool     `json:"truncated"`
}
