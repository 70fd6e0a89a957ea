package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// These structs define the JSON payloads delivered by the orchestrator host
// and the hand-off payload sent to the follow-up workflow.

// QueueElement is the envelope the orchestrator queue delivers. Data holds
// the export request as a JSON string.
type QueueElement struct {
	Reference string `json:"reference"`
	Data      string `json:"data"`
}

// ExportRequest is the content of a queue element.
type ExportRequest struct {
	CaseRef     string `json:"requestNumberServiceNow"`
	PatientCPR  string `json:"patient_cpr"`
	CallerEmail string `json:"callerEmail"`
	CallerName  string `json:"callerName"`

	// QueueReference is filled from the envelope, not from the data itself.
	QueueReference string `json:"-"`
}

// SubjectKey returns the CPR number with hyphens and surrounding space removed.
func (r ExportRequest) SubjectKey() string {
	return strings.ReplaceAll(strings.TrimSpace(r.PatientCPR), "-", "")
}

// Delivery returns the delivery details for the requester.
func (r ExportRequest) Delivery() DeliveryRequest {
	return DeliveryRequest{
		Recipient:  strings.TrimSpace(r.CallerEmail),
		CaseRef:    strings.TrimSpace(r.CaseRef),
		CallerName: strings.TrimSpace(r.CallerName),
	}
}

// DecodeExportRequest accepts either a queue element envelope or a bare
// export request object.
func DecodeExportRequest(raw []byte) (*ExportRequest, error) {
	var envelope QueueElement
	if err := json.Unmarshal(raw, &envelope); err == nil && strings.TrimSpace(envelope.Data) != "" {
		var req ExportRequest
		if err := json.Unmarshal([]byte(envelope.Data), &req); err != nil {
			return nil, fmt.Errorf("decode queue element data: %w", err)
		}
		req.QueueReference = envelope.Reference
		return &req, nil
	}

	var req ExportRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decode export request: %w", err)
	}
	if req == (ExportRequest{}) {
		return nil, errors.New("export request is empty")
	}
	return &req, nil
}

// DeliveryRequest describes who receives the archives and under which case.
// Templates is for programmatic callers only: ExportRequest.Delivery never
// sets it, so invocations always get the standard Danish wording that a nil
// Templates falls back to.
type DeliveryRequest struct {
	Recipient  string
	CaseRef    string
	CallerName string
	Templates  *MessageTemplates
}

// MessageTemplates holds the recipient-facing subject and body templates.
// Subject is a text/template, the bodies are html/template sources; all are
// executed with a MessageData value.
type MessageTemplates struct {
	Subject    string
	SingleBody string
	MultiBody  string
}

// MessageData is the template input for one outgoing email.
type MessageData struct {
	CaseRef    string
	CallerName string
	Part       int
	TotalParts int
}

// ExportResponse is returned by the HTTP entry point.
type ExportResponse struct {
	Status       string `json:"status"`
	RunID        string `json:"runId"`
	ArchiveCount int    `json:"archiveCount"`
}

// CompletionPayload is passed as the argument of the follow-up workflow.
type CompletionPayload struct {
	RunID        string `json:"runId"`
	CaseRef      string `json:"caseRef"`
	Status       string `json:"status"`
	ErrorKind    string `json:"errorKind,omitempty"`
	ArchiveCount int    `json:"archiveCount"`
}
