package models

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidStatus indicates a status transition the caller is not allowed to make.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrStoreClosed is returned by every local store call after Close.
	ErrStoreClosed = errors.New("local store is closed")

	// ErrInvalidRecord indicates a record failed validation.
	ErrInvalidRecord = errors.New("invalid record")
)
