package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PhotoUpload references a cached blob by file name.
type PhotoUpload struct {
	FileName string `json:"file_name" yaml:"file_name"`
	TargetID string `json:"target_id,omitempty" yaml:"target_id"`
	Caption  string `json:"caption,omitempty" yaml:"caption"`
}

// Remark is a text finding attached to an inspected target.
type Remark struct {
	TargetID string `json:"target_id" yaml:"target_id"`
	Text     string `json:"text" yaml:"text"`
	Priority int    `json:"priority" yaml:"priority"`
}

// RecordUpdate is a structural edit of a target's fields.
type RecordUpdate struct {
	TargetID string         `json:"target_id" yaml:"target_id"`
	Fields   map[string]any `json:"fields" yaml:"fields"`
}

// RecordDelete removes a target.
type RecordDelete struct {
	TargetID string `json:"target_id" yaml:"target_id"`
}

// DecodePayload decodes raw into the payload type registered for opType and validates it.
func DecodePayload(opType OperationType, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("payload is required")
	}
	switch opType {
	case OpPhotoUpload:
		var p PhotoUpload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", opType, err)
		}
		p.FileName = strings.TrimSpace(p.FileName)
		if p.FileName == "" {
			return nil, fmt.Errorf("file_name is required")
		}
		return p, nil
	case OpRemarkCreate:
		var p Remark
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", opType, err)
		}
		if strings.TrimSpace(p.TargetID) == "" {
			return nil, fmt.Errorf("target_id is required")
		}
		if strings.TrimSpace(p.Text) == "" {
			return nil, fmt.Errorf("text is required")
		}
		if !IsValidPriority(p.Priority) {
			return nil, fmt.Errorf("priority must be between %d and %d", PriorityMin, PriorityMax)
		}
		return p, nil
	case OpRecordUpdate:
		var p RecordUpdate
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", opType, err)
		}
		if strings.TrimSpace(p.TargetID) == "" {
			return nil, fmt.Errorf("target_id is required")
		}
		if len(p.Fields) == 0 {
			return nil, fmt.Errorf("fields are required")
		}
		return p, nil
	case OpRecordDelete:
		var p RecordDelete
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", opType, err)
		}
		if strings.TrimSpace(p.TargetID) == "" {
			return nil, fmt.Errorf("target_id is required")
		}
		return p, nil
	default:
		return nil, fmt.Errorf("invalid operation type: %s", opType)
	}
}
