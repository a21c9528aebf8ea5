package repository

import "errors"

var (
	ErrRequestNotFound    = errors.New("ingestion request not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrInvalidInput       = errors.New("invalid input parameters")
)
