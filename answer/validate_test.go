package answer

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/answerflow/rag"
	"github.com/BaSui01/answerflow/types"
)

func TestRequestValidator(t *testing.T) {
	v := NewRequestValidator(10, nil)

	tests := []struct {
		name    string
		req     *Request
		code    types.ErrorCode
		message string
	}{
		{name: "valid", req: &Request{Question: "Who?", Intent: types.IntentRouting}},
		{name: "valid with filters", req: &Request{Question: "Who?", Intent: types.IntentHybrid, Filters: rag.Filters{"region": "uk", "role": "drama"}}},
		{name: "exactly max runes", req: &Request{Question: strings.Repeat("ü", 10), Intent: types.IntentFactual}},
		{name: "nil", req: nil, code: types.ErrInvalidQuestion},
		{name: "empty", req: &Request{Intent: types.IntentFactual}, code: types.ErrInvalidQuestion, message: "question is empty"},
		{name: "too long", req: &Request{Question: strings.Repeat("a", 11), Intent: types.IntentFactual}, code: types.ErrInvalidQuestion, message: "question exceeds 10 characters"},
		{name: "unknown intent", req: &Request{Question: "Who?", Intent: "smalltalk"}, code: types.ErrUnknownIntent},
		{name: "empty filter key", req: &Request{Question: "Who?", Intent: types.IntentFactual, Filters: rag.Filters{"": "uk"}}, code: types.ErrInvalidFilters},
		{name: "empty filter value", req: &Request{Question: "Who?", Intent: types.IntentFactual, Filters: rag.Filters{"region": ""}}, code: types.ErrInvalidFilters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.req)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
			assert.True(t, types.IsValidation(err))
			if tt.message != "" {
				assert.Contains(t, err.Error(), tt.message)
			}
		})
	}
}

func TestRequestValidator_CustomVocabulary(t *testing.T) {
	v := NewRequestValidator(0, []types.Intent{"billing"})

	assert.NoError(t, v.Validate(&Request{Question: "Refund?", Intent: "billing"}))
	assert.True(t, types.IsErrorCode(v.Validate(&Request{Question: "Refund?", Intent: types.IntentFactual}), types.ErrUnknownIntent))
	assert.NoError(t, v.Validate(&Request{Question: strings.Repeat("x", DefaultConfig().MaxQuestionLength), Intent: "billing"}))
}

func TestRequestValidator_QuestionLengthProperty(t *testing.T) {
	const max = 40
	v := NewRequestValidator(max, nil)

	rapid.Check(t, func(t *rapid.T) {
		q := rapid.StringN(0, 60, -1).Draw(t, "question")
		intent := rapid.SampledFrom(types.DefaultIntents()).Draw(t, "intent")

		err := v.Validate(&Request{Question: q, Intent: intent})
		trimmed := strings.TrimSpace(q)
		wantOK := trimmed != "" && utf8.RuneCountInString(trimmed) <= max

		if wantOK && err != nil {
			t.Fatalf("question %q rejected: %v", q, err)
		}
		if !wantOK && !types.IsErrorCode(err, types.ErrInvalidQuestion) {
			t.Fatalf("question %q: expected INVALID_QUESTION, got %v", q, err)
		}
	})
}
