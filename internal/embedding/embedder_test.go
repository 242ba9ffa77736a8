package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-triage/internal/utils"
)

func l2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return sum
}

func TestHashingEmbedderDeterministicAndNormalised(t *testing.T) {
	h := NewHashingEmbedder(64)
	ctx := context.Background()

	a, err := h.Embed(ctx, "GET /etc/passwd from 10.0.0.1")
	require.NoError(t, err)
	b, err := h.Embed(ctx, "GET /etc/passwd from 10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestHashingEmbedderSimilarLinesAreCloser(t *testing.T) {
	h := NewHashingEmbedder(0)
	ctx := context.Background()
	base, _ := h.Embed(ctx, "sshd failed password for root from 10.0.0.1")
	near, _ := h.Embed(ctx, "sshd failed password for root from 10.0.0.2")
	far, _ := h.Embed(ctx, "kernel: usb device connected on port 3")

	assert.Equal(t, DefaultDim, h.Dim())
	assert.Less(t, l2(base, near), l2(base, far))
}

func TestHashingEmbedderEmptyText(t *testing.T) {
	v, err := NewHashingEmbedder(8).Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), v)
}

type fakeLangchain struct {
	failures int
	vectors  [][]float32
	calls    int
}

func (f *fakeLangchain) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := f.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeLangchain) EmbedQuery(context.Context, string) ([]float32, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("503 unavailable")
	}
	v := f.vectors[0]
	if len(f.vectors) > 1 {
		f.vectors = f.vectors[1:]
	}
	return v, nil
}

func TestLangchainEmbedderRetriesThenSucceeds(t *testing.T) {
	fake := &fakeLangchain{failures: 1, vectors: [][]float32{{1, 2, 3}}}
	e := newLangchainEmbedder("ollama", fake, Config{MaxRetries: 1}, nil)

	v, err := e.Embed(context.Background(), "line")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, v)
	assert.Equal(t, 2, fake.calls)
	assert.Equal(t, 3, e.Dim())
}

func TestLangchainEmbedderExhaustsRetries(t *testing.T) {
	fake := &fakeLangchain{failures: 5, vectors: [][]float32{{1}}}
	e := newLangchainEmbedder("googleai", fake, Config{MaxRetries: 1}, nil)

	_, err := e.Embed(context.Background(), "line")
	assert.ErrorIs(t, err, utils.ErrServiceError)
	assert.Equal(t, 2, fake.calls)
}

func TestLangchainEmbedderRejectsDimensionDrift(t *testing.T) {
	fake := &fakeLangchain{vectors: [][]float32{{1, 2}, {1, 2, 3}}}
	e := newLangchainEmbedder("ollama", fake, Config{}, nil)

	_, err := e.Embed(context.Background(), "first")
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "second")
	assert.ErrorIs(t, err, utils.ErrContractViolation)
}

func TestNewSelectsProvider(t *testing.T) {
	e, err := New(context.Background(), Config{Dim: 16}, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderHashing, e.Name())
	assert.Equal(t, 16, e.Dim())

	_, err = New(context.Background(), Config{Provider: "word2vec"}, nil)
	assert.Error(t, err)

	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	_, err = New(context.Background(), Config{Provider: ProviderGoogleAI}, nil)
	assert.ErrorIs(t, err, utils.ErrServiceUnavailable)
}
