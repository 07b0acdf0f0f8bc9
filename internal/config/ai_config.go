package config

// AIConfig holds the OpenAI and Pinecone settings used by the answer
// pipeline. PineconeIndexHost is the full index endpoint host, e.g.
// "https://my-index-abc123.svc.us-east-1.pinecone.io".
type AIConfig struct {
	OpenAIKey         string
	ChatModel         string
	EmbeddingModel    string
	PineconeAPIKey    string
	PineconeIndexHost string
	RetrievalTopK     int
}

func NewAIConfig() *AIConfig {
	return &AIConfig{
		OpenAIKey:         getEnv("OPENAI_API_KEY", ""),
		ChatModel:         getEnv("OPENAI_CHAT_MODEL", "gpt-3.5-turbo"),
		EmbeddingModel:    getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-ada-002"),
		PineconeAPIKey:    getEnv("PINECONE_API_KEY", ""),
		PineconeIndexHost: getEnv("PINECONE_INDEX_HOST", ""),
		RetrievalTopK:     3,
	}
}
