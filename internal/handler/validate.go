package handler

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/oapi-codegen/nullable"

	"github.com/hitoshi/babyfamily/internal/model"
)

// requestValidator はリクエストボディの検証を行う。
// エラーはJSONフィールド名をキーとするフィールド単位のメッセージに集約する。
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &requestValidator{validate: v}
}

// Struct は構造体タグに従って検証し、失敗時はVALIDATION_FAILEDのエラーを返す。
func (v *requestValidator) Struct(s any) *model.APIError {
	details := make(map[string]string)
	v.collect(details, "", v.validate.Struct(s))
	if len(details) == 0 {
		return nil
	}
	return model.NewValidationError(details)
}

// Var は単一の値を検証し、失敗時はdetailsにfieldのメッセージを追加する。
func (v *requestValidator) Var(details map[string]string, field string, value any, tag string) {
	v.collect(details, field, v.validate.Var(value, tag))
}

// pathID はURLパラメータnameのIDを取り出す。
// UUID形式でないIDのリソースは存在し得ないため、notFoundのエラーを書き込んでfalseを返す。
func (v *requestValidator) pathID(w http.ResponseWriter, r *http.Request, name string, notFound func(id string) *model.APIError) (string, bool) {
	id := chi.URLParam(r, name)
	if err := v.validate.Var(id, "required,uuid"); err != nil {
		apiErr := notFound(id)
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return "", false
	}
	return id, true
}

func (v *requestValidator) collect(details map[string]string, field string, err error) {
	if err == nil {
		return
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		details[field] = "不正な値です。"
		return
	}
	for _, fe := range errs {
		name := field
		if name == "" {
			name = fe.Field()
		}
		if _, exists := details[name]; !exists {
			details[name] = validationMessage(fe)
		}
	}
}

// validationMessage は検証タグごとの表示メッセージを返す。
func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "必須項目です。"
	case "max":
		return fmt.Sprintf("%s文字以内で入力してください。", fe.Param())
	case "min":
		return fmt.Sprintf("%s以上で指定してください。", fe.Param())
	case "lte":
		return fmt.Sprintf("%s以下で指定してください。", fe.Param())
	case "gte":
		return fmt.Sprintf("%s以上で指定してください。", fe.Param())
	case "oneof":
		return fmt.Sprintf("次のいずれかを指定してください: %s", fe.Param())
	case "uuid":
		return "IDの形式が正しくありません。"
	case "url", "http_url":
		return "URLの形式が正しくありません。"
	case "datetime":
		return "日付はYYYY-MM-DD形式で入力してください。"
	case "alphanum":
		return "英数字のみで入力してください。"
	case "numeric":
		return "数字のみで入力してください。"
	default:
		return "不正な値です。"
	}
}

// patchField は部分更新リクエストの値を取り出す。
// 未指定の場合はnilを返す。nullは解除できない項目のためdetailsにエラーを追加する。
// tagが空でない場合は値をタグで検証する。
func patchField[T any](v *requestValidator, details map[string]string, field string, n nullable.Nullable[T], tag string) *T {
	if !n.IsSpecified() {
		return nil
	}
	if n.IsNull() {
		details[field] = "nullは指定できません。"
		return nil
	}
	value, err := n.Get()
	if err != nil {
		details[field] = "不正な値です。"
		return nil
	}
	if tag != "" {
		before := len(details)
		v.Var(details, field, value, tag)
		if len(details) != before {
			return nil
		}
	}
	return &value
}
