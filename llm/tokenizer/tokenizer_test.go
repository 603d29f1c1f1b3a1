package tokenizer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimatorTokenizer()

	n, err := e.CountTokens("")
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	n, _ = e.CountTokens("hi")
	assert.Equal(t, 1, n)

	n, _ = e.CountTokens("Who is the head of drama at Netflix?")
	assert.Equal(t, 9, n)

	n, _ = e.CountTokens("你好世界")
	assert.Equal(t, 2, n)
}

func TestNewTiktokenTokenizer_EncodingSelection(t *testing.T) {
	assert.Equal(t, "o200k_base", NewTiktokenTokenizer("gpt-4o-mini").Encoding())
	assert.Equal(t, "o200k_base", NewTiktokenTokenizer("gpt-4o-2024-08-06").Encoding())
	assert.Equal(t, "cl100k_base", NewTiktokenTokenizer("gpt-4-0613").Encoding())
	assert.Equal(t, "cl100k_base", NewTiktokenTokenizer("some-local-model").Encoding())
}

type failingTokenizer struct{}

func (failingTokenizer) CountTokens(string) (int, error) { return 0, errors.New("offline") }
func (failingTokenizer) Name() string                    { return "failing" }

func TestFallbackTokenizer(t *testing.T) {
	tk := &fallbackTokenizer{primary: failingTokenizer{}, fallback: NewEstimatorTokenizer()}

	n, err := tk.CountTokens("abcdefgh")
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "failing|estimator", tk.Name())

	assert.Equal(t, 2, Count(tk, "abcdefgh"))
	assert.Equal(t, 0, Count(nil, "abcdefgh"))
	assert.Equal(t, 0, Count(failingTokenizer{}, "abcdefgh"))
}
