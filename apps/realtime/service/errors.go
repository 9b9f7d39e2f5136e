package service

import "errors"

var (
	ErrMethodNotAllowed         = errors.New("method not allowed")
	ErrInvalidRequestBody       = errors.New("request body must be valid JSON")
	ErrTopicRequired            = errors.New("topic is required")
	ErrNotificationDataRequired = errors.New("data is required")
)
