package answer

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/BaSui01/answerflow/types"
)

// RequestValidator 按结构体标签校验请求：问题非空且不超长、意图在词表内、
// 过滤条件键值非空。失败时返回校验类 types.Error。
type RequestValidator struct {
	validate  *validator.Validate
	maxLength int
	intents   map[types.Intent]struct{}
}

// NewRequestValidator 创建请求校验器
func NewRequestValidator(maxLength int, intents []types.Intent) *RequestValidator {
	if maxLength <= 0 {
		maxLength = DefaultConfig().MaxQuestionLength
	}
	if len(intents) == 0 {
		intents = types.DefaultIntents()
	}

	rv := &RequestValidator{
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		maxLength: maxLength,
		intents:   make(map[types.Intent]struct{}, len(intents)),
	}
	for _, in := range intents {
		rv.intents[in] = struct{}{}
	}

	// 注册失败只可能是标签名非法，属于编程错误
	if err := rv.validate.RegisterValidation("question", rv.validQuestion); err != nil {
		panic(err)
	}
	if err := rv.validate.RegisterValidation("intent", rv.validIntent); err != nil {
		panic(err)
	}
	return rv
}

// Validate 校验请求
func (rv *RequestValidator) Validate(req *Request) error {
	if req == nil {
		return types.NewValidationError(types.ErrInvalidQuestion, "request is nil")
	}

	err := rv.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return types.NewValidationError(types.ErrInvalidQuestion, "invalid request").WithCause(err)
	}

	field := verrs[0].StructField()
	switch {
	case field == "Intent":
		return types.NewValidationError(types.ErrUnknownIntent,
			fmt.Sprintf("intent %q is not in the vocabulary", req.Intent))
	case strings.HasPrefix(field, "Filters"):
		return types.NewValidationError(types.ErrInvalidFilters, "filter keys and values must be non-empty")
	default:
		if strings.TrimSpace(req.Question) == "" {
			return types.NewValidationError(types.ErrInvalidQuestion, "question is empty")
		}
		return types.NewValidationError(types.ErrInvalidQuestion,
			fmt.Sprintf("question exceeds %d characters", rv.maxLength))
	}
}

func (rv *RequestValidator) validQuestion(fl validator.FieldLevel) bool {
	q := strings.TrimSpace(fl.Field().String())
	return q != "" && utf8.RuneCountInString(q) <= rv.maxLength
}

func (rv *RequestValidator) validIntent(fl validator.FieldLevel) bool {
	_, ok := rv.intents[types.Intent(fl.Field().String())]
	return ok
}
