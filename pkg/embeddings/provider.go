// Package embeddings defines the Provider interface backing the A7
// semantic-suggestions auxiliary feature: free text in, a dense float32
// vector out, ranked against stored Proposition embeddings by pgvector
// cosine distance.
package embeddings

import (
	"context"
	"fmt"

	"github.com/kqlgateway/kqlgateway/pkg/embeddings/openai"
)

// Provider is the abstraction over any text-embedding backend.
//
// All embedding vectors returned by a single Provider instance must share the
// same dimensionality (returned by Dimensions). Implementations must be safe
// for concurrent use.
type Provider interface {
	// Embed computes the embedding vector for a single text string.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed length of every embedding vector produced
	// by this provider.
	Dimensions() int

	// ModelID returns the provider-specific model identifier.
	ModelID() string
}

// New constructs the named provider. Currently "openai" is the only wired
// backend; unknown names return an error rather than a silent no-op so
// misconfiguration surfaces at startup.
func New(name, apiKey, model string) (Provider, error) {
	switch name {
	case "openai":
		return openai.New(apiKey, model)
	default:
		return nil, fmt.Errorf("embeddings: unknown provider %q", name)
	}
}
