package util

import "errors"

// 评测与进度相关的错误分类，调用方使用 errors.Is 判断
var (
	ErrValidation            = errors.New("validation failed")
	ErrEvaluationUnavailable = errors.New("open answer evaluation unavailable")
	ErrPersistenceConflict   = errors.New("concurrent write in progress, retry the request")
	ErrInvalidTransition     = errors.New("invalid progress transition")
	ErrNotFound              = errors.New("not found")
	ErrPreconditionFailed    = errors.New("precondition failed")
)
