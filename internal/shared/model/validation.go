package model

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldError 单个字段的校验失败
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError 实体违反的全部规则
type ValidationError struct {
	Entity string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("invalid %s: %s", e.Entity, strings.Join(parts, "; "))
}

// Add 追加一条字段错误
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Err 没有字段错误时返回 nil
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// IsValidationError 判断 err 链中是否有 *ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// 错误中的字段名使用 JSON 名
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(tourRules, Tour{})
	v.RegisterStructValidation(pointRules, GeoPoint{})
	v.RegisterStructValidation(locationRules, Location{})
	v.RegisterStructValidation(reviewRules, Review{})
	return v
}

// check 执行 tag 与结构体级规则，收集到 ValidationError
func check(entity string, v any) *ValidationError {
	ve := &ValidationError{Entity: entity}
	err := validate.Struct(v)
	if err == nil {
		return ve
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		ve.Add("", err.Error())
		return ve
	}
	for _, fe := range errs {
		ve.Add(fieldPath(fe), message(fe))
	}
	return ve
}

// fieldPath 去掉命名空间里的根类型名：Tour.startLocation.coordinates → startLocation.coordinates
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must have at least %s characters", fe.Param())
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must have at most %s characters", fe.Param())
		}
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "email":
		return "must be a valid email"
	case "eqfield":
		return "must match " + lowerFirst(fe.Param())
	case "eq":
		return "must be " + fe.Param()
	}
	// 结构体级规则把可读信息放在 param 中
	if fe.Param() != "" {
		return fe.Param()
	}
	return "failed " + fe.Tag()
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
