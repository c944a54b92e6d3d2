package models

import (
	"fmt"
	"strings"
)

// OperationType identifies the kind of mutation an operation carries.
type OperationType string

const (
	OpPhotoUpload  OperationType = "photo_upload"
	OpRemarkCreate OperationType = "remark_create"
	OpRecordUpdate OperationType = "record_update"
	OpRecordDelete OperationType = "record_delete"
)

// OperationStatus defines the lifecycle states visible to callers.
type OperationStatus string

const (
	StatusPending OperationStatus = "pending"
	StatusFailed  OperationStatus = "failed"
)

const (
	PriorityMin     = 0
	PriorityMax     = 4
	DefaultPriority = 2

	DefaultMaxRetries = 3
)

var validOperationTypes = map[OperationType]struct{}{
	OpPhotoUpload:  {},
	OpRemarkCreate: {},
	OpRecordUpdate: {},
	OpRecordDelete: {},
}

func IsValidOperationType(opType OperationType) bool {
	_, ok := validOperationTypes[opType]
	return ok
}

func ParseOperationType(raw string) (OperationType, error) {
	value := OperationType(strings.ToLower(strings.TrimSpace(raw)))
	if value == "" {
		return "", fmt.Errorf("type is required")
	}
	if !IsValidOperationType(value) {
		return "", fmt.Errorf("invalid operation type: %s", value)
	}
	return value, nil
}

// OperationTypeStrings lists supported types in a stable order.
func OperationTypeStrings() []string {
	return []string{
		string(OpPhotoUpload),
		string(OpRemarkCreate),
		string(OpRecordUpdate),
		string(OpRecordDelete),
	}
}

func IsValidPriority(value int) bool {
	return value >= PriorityMin && value <= PriorityMax
}
