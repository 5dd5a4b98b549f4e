package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// version が一致しない（他の処理が先に更新した）
	ErrConcurrentUpdate = errors.New("modified by another process")

	// 一意制約違反
	ErrDuplicate = errors.New("duplicate")
)
