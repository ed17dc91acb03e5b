package domain

// ChatMessage is one exported Telegram message. Messages are immutable once
// stored: the corpus is a one-time snapshot, never synced with new messages.
type ChatMessage struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// Corpus holds the complete exported history of one chat.
type Corpus struct {
	ChatName string
	ChatID   int64
	Messages []ChatMessage
	ByID     map[int64]string
}

// SearchResult is one ranked hit for a query. Similarity is the cosine
// between the query's inferred vector and the message's trained vector.
type SearchResult struct {
	MessageID   int64   `json:"message_id"`
	MessageText string  `json:"message_text"`
	Similarity  float64 `json:"similarity"`
	MessageLink string  `json:"message_link"`
}

// EngineStatus describes a constructed engine instance.
type EngineStatus struct {
	ChatName      string `json:"chat_name"`
	ChatID        int64  `json:"chat_id"`
	Language      string `json:"language"`
	MessageCount  int    `json:"message_count"`
	TrainedDocs   int    `json:"trained_docs"`
	VectorSize    int    `json:"vector_size"`
	RerankEnabled bool   `json:"rerank_enabled"`
	ReadyAtUnix   int64  `json:"ready_at_unix"`
}

// QueryRecord is one entry of the front-end query history.
type QueryRecord struct {
	ID          int64  `json:"id"`
	ChatName    string `json:"chat_name"`
	Query       string `json:"query"`
	ResultCount int    `json:"result_count"`
	AskedAtUnix int64  `json:"asked_at_unix"`
}
