package xregistry

import "errors"

var (
	// ErrNotFound 名称未注册
	ErrNotFound = errors.New("xregistry: logger not found")

	// ErrClosed 注册表已关闭
	ErrClosed = errors.New("xregistry: registry is closed")

	// ErrEmptyName 名称为空
	ErrEmptyName = errors.New("xregistry: logger name is required")

	// ErrNotOwner 条目的所有者与 [IfOwner] 指定的不一致
	ErrNotOwner = errors.New("xregistry: entry owned by someone else")

	// ErrNilHandle 注册的 Handle 为 nil
	ErrNilHandle = errors.New("xregistry: handle is nil")
)
