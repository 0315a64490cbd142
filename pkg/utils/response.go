package utils

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/zhouzirui/z-interview/backend/internal/apperr"
)

// ErrorBody 错误响应体
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorBody{Error: message})
}

// RespondAppError 按错误类型映射状态码；未分类的错误不向调用方暴露细节
func RespondAppError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.KindOf(err)
	if kind == apperr.KindUnknown {
		RespondJSON(w, status, ErrorBody{Error: "internal server error"})
		return
	}
	RespondJSON(w, status, ErrorBody{Error: apperr.MessageOf(err), Code: string(kind)})
}

// DecodeJSON 解析JSON请求体
func DecodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.InvalidInput("decode", "invalid JSON payload")
	}
	return nil
}
