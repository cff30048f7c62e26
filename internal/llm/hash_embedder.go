package llm

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/zeebo/blake3"
)

// DefaultHashDimensions is the vector size of the offline embedder.
const DefaultHashDimensions = 256

// hashEmbedderKey domain-separates feature hashes from any other blake3 use.
var hashEmbedderKey = [32]byte{
	'c', 'h', 'a', 'r', 'l', 'e', 's', '-', 'f', 'e', 'a', 't', 'u', 'r', 'e', '-',
	'h', 'a', 's', 'h', '-', 'e', 'm', 'b', 'e', 'd', 'd', 'e', 'r', '-', 'v', '1',
}

// HashEmbedder is a deterministic, offline EmbeddingGenerator. Unigrams and
// bigrams of the lower-cased text are hashed into signed buckets and the result
// is L2-normalised, so texts sharing words land near each other.
type HashEmbedder struct {
	dims   int
	mu     sync.Mutex
	hasher *blake3.Hasher
}

// NewHashEmbedder creates an embedder producing vectors of dims entries.
func NewHashEmbedder(dims int) (*HashEmbedder, error) {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	hasher, err := blake3.NewKeyed(hashEmbedderKey[:])
	if err != nil {
		return nil, fmt.Errorf("failed to initialise blake3: %w", err)
	}
	return &HashEmbedder{dims: dims, hasher: hasher}, nil
}

// Embed never fails except on a cancelled context.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, e.dims)
	tokens := tokenize(text)

	e.mu.Lock()
	for i, tok := range tokens {
		e.add(vec, tok, 1.0)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}
	e.mu.Unlock()

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, e.dims)
	if norm == 0 {
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func (e *HashEmbedder) add(vec []float64, feature string, weight float64) {
	e.hasher.Reset()
	_, _ = e.hasher.WriteString(feature)
	sum := e.hasher.Sum(nil)

	idx := binary.LittleEndian.Uint64(sum[:8]) % uint64(len(vec))
	if sum[8]&1 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// GetModel names the embedder and its dimensionality.
func (e *HashEmbedder) GetModel() string {
	return fmt.Sprintf("blake3-hash-%d", e.dims)
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Compile-time assertion.
var _ EmbeddingGenerator = (*HashEmbedder)(nil)
