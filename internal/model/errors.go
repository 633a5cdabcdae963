package model

import (
	"errors"
	"fmt"
)

// ErrorKind 是对外可见的错误分类，HTTP 层按它映射状态码。
type ErrorKind string

const (
	KindUnsupportedFormat       ErrorKind = "UnsupportedFormat"
	KindFileTooLarge            ErrorKind = "FileTooLarge"
	KindExtractionFailure       ErrorKind = "ExtractionFailure"
	KindEmptyDocument           ErrorKind = "EmptyDocument"
	KindEmbeddingServiceError   ErrorKind = "EmbeddingServiceError"
	KindAlreadyProcessing       ErrorKind = "AlreadyProcessing"
	KindDocumentNotFound        ErrorKind = "DocumentNotFound"
	KindUnauthorized            ErrorKind = "Unauthorized"
	KindDocumentNotReady        ErrorKind = "DocumentNotReady"
	KindEmptyQuestion           ErrorKind = "EmptyQuestion"
	KindAnswerGenerationFailure ErrorKind = "AnswerGenerationFailure"
	KindInternal                ErrorKind = "Internal"
)

// AppError 携带错误类别、可读描述以及底层原因。
type AppError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *AppError) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *AppError) Unwrap() error { return e.Err }

// Is 按类别比较，使 errors.Is(err, ErrDocumentNotFound) 对任意描述都成立。
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// NewError 创建一个不带底层原因的 AppError。
func NewError(kind ErrorKind, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WrapError 用指定类别包装底层错误。
func WrapError(kind ErrorKind, err error, detail string) *AppError {
	return &AppError{Kind: kind, Detail: detail, Err: err}
}

// KindOf 提取错误链中第一个 AppError 的类别，没有则返回 KindInternal。
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// DetailOf 返回面向用户的描述。
func DetailOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Detail != "" {
		return appErr.Detail
	}
	return err.Error()
}

var (
	ErrUnsupportedFormat       = &AppError{Kind: KindUnsupportedFormat}
	ErrFileTooLarge            = &AppError{Kind: KindFileTooLarge}
	ErrExtractionFailure       = &AppError{Kind: KindExtractionFailure}
	ErrEmptyDocument           = &AppError{Kind: KindEmptyDocument}
	ErrEmbeddingService        = &AppError{Kind: KindEmbeddingServiceError}
	ErrAlreadyProcessing       = &AppError{Kind: KindAlreadyProcessing}
	ErrDocumentNotFound        = &AppError{Kind: KindDocumentNotFound}
	ErrUnauthorized            = &AppError{Kind: KindUnauthorized}
	ErrDocumentNotReady        = &AppError{Kind: KindDocumentNotReady}
	ErrEmptyQuestion           = &AppError{Kind: KindEmptyQuestion}
	ErrAnswerGenerationFailure = &AppError{Kind: KindAnswerGenerationFailure}
)
