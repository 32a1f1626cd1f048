package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"stream-relay/pkg/models"
)

// Request is a validated, normalized request payload. It is constructed
// once per request, never mutated afterward, and discarded after prompt
// construction.
type Request struct {
	UseCase string

	// Topic use case.
	Topic string

	// Visit-note use case.
	PatientName string
	DateOfVisit string
	Notes       string
}

// System instructions per use case. Prompt construction is deterministic:
// the only source of output variance downstream is the model's own
// sampling.
const (
	topicSystemPrompt = "You are a helpful writing assistant. Write clear, " +
		"engaging prose about the topic the user provides. Respond in plain " +
		"paragraphs without headings or lists."

	visitNoteSystemPrompt = "You are a clinical documentation assistant. " +
		"From the visit details provided, write a visit summary with exactly " +
		"three labeled sections, in this order: \"Summary:\", \"Assessment:\" " +
		"and \"Plan:\". Keep each section brief and factual. Do not invent " +
		"details that are not in the notes."
)

// ValidateTopic normalizes the topic use case's single free-text field.
func ValidateTopic(topic string) (*Request, *models.ValidationError) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, &models.ValidationError{Field: "topic", Msg: "required"}
	}
	return &Request{UseCase: UseCaseTopic, Topic: topic}, nil
}

// ValidateVisitNote decodes and validates the visit-note JSON body.
// Fields are checked in a fixed order and the first missing or invalid
// one is reported. The only normalization applied is whitespace trimming
// on text fields and ISO-8601 validation on the date field.
func ValidateVisitNote(body io.Reader) (*Request, *models.ValidationError) {
	var raw map[string]interface{}
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, &models.ValidationError{Field: "body", Msg: "not a JSON object"}
	}

	patientName, verr := stringField(raw, "patient_name")
	if verr != nil {
		return nil, verr
	}
	dateOfVisit, verr := stringField(raw, "date_of_visit")
	if verr != nil {
		return nil, verr
	}
	if _, err := time.Parse("2006-01-02", dateOfVisit); err != nil {
		return nil, &models.ValidationError{Field: "date_of_visit", Msg: "must be a YYYY-MM-DD date"}
	}
	notes, verr := stringField(raw, "notes")
	if verr != nil {
		return nil, verr
	}

	return &Request{
		UseCase:     UseCaseVisitNote,
		PatientName: patientName,
		DateOfVisit: dateOfVisit,
		Notes:       notes,
	}, nil
}

func stringField(raw map[string]interface{}, field string) (string, *models.ValidationError) {
	v, ok := raw[field]
	if !ok || v == nil {
		return "", &models.ValidationError{Field: field, Msg: "required"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &models.ValidationError{Field: field, Msg: "must be a string"}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &models.ValidationError{Field: field, Msg: "required"}
	}
	return s, nil
}

// BuildPrompt composes the ordered message sequence for a validated
// request: one fixed system instruction followed by one user message
// interpolating the normalized fields verbatim. Pure function; same
// input always yields the same messages.
func BuildPrompt(req *Request) []models.Message {
	switch req.UseCase {
	case UseCaseVisitNote:
		user := fmt.Sprintf(
			"Patient name: %s\nDate of visit: %s\nNotes:\n%s",
			req.PatientName, req.DateOfVisit, req.Notes,
		)
		return []models.Message{
			{Role: "system", Content: visitNoteSystemPrompt},
			{Role: "user", Content: user},
		}
	default:
		return []models.Message{
			{Role: "system", Content: topicSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Write about the following topic: %s", req.Topic)},
		}
	}
}
