package domain

import "errors"

var (
	// ErrNotRecognized is returned by the identity resolver for URLs outside
	// the supported marketplace family or without an embedded listing id.
	ErrNotRecognized = errors.New("listing url not recognized")

	ErrInvalidIdentity   = errors.New("invalid listing identity")
	ErrAnalysisFailed    = errors.New("analysis failed")
	ErrPersistenceFailed = errors.New("persistence failed")

	ErrRecordNotFound = errors.New("analysis record not found")
	ErrTaskNotFound   = errors.New("task not found")
	ErrInvalidTaskID  = errors.New("invalid task id")
)
