// Package models defines the core data structures for GuiaIA.
//
// It includes the backend wire types for questions, validation, composition,
// scoring and improvement, which are shared across modules.
package models

import (
	"errors"
	"strconv"
	"time"
)

// Error variables for better error handling and testability
var (
	ErrEmptyPrompt   = errors.New("prompt cannot be empty")
	ErrEmptyQuestion = errors.New("question id cannot be empty")
)

// Phase is the coarse state of a conversation.
type Phase string

const (
	// PhaseAsking means questions are still being answered.
	PhaseAsking Phase = "asking"
	// PhaseFinished means every question was accepted and composition ran.
	PhaseFinished Phase = "finished"
)

// Question is a single entry of the question bank. Order is significant.
type Question struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Answers maps question ids to the trimmed, accepted answer text.
type Answers map[string]string

// Clone returns an independent copy, never nil.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// QuestionsResponse is the body returned by GET /questions.
type QuestionsResponse struct {
	Questions []Question `json:"questions"`
}

// ValidateRequest is the body sent to POST /validate-step.
type ValidateRequest struct {
	QuestionID string  `json:"question_id"`
	Answer     string  `json:"answer"`
	History    Answers `json:"history"`
}

// Validate checks the request before it is sent.
func (r ValidateRequest) Validate() error {
	if r.QuestionID == "" {
		return ErrEmptyQuestion
	}
	return nil
}

// ValidateResponse is the body returned by POST /validate-step.
type ValidateResponse struct {
	OK   bool   `json:"ok"`
	Hint string `json:"hint,omitempty"`
}

// ComposeRequest is the body sent to POST /compose-initial.
type ComposeRequest struct {
	AnswersClean Answers `json:"answers_clean"`
}

// ComposeResponse is the body returned by POST /compose-initial.
type ComposeResponse struct {
	Prompt string `json:"prompt,omitempty"`
}

// PromptRequest is the body sent to POST /scorecard and POST /improve-online.
type PromptRequest struct {
	Prompt string `json:"prompt"`
}

// Validate checks the request before it is sent.
func (r PromptRequest) Validate() error {
	if r.Prompt == "" {
		return ErrEmptyPrompt
	}
	return nil
}

// Criterion names reported by the scorecard, in display order.
const (
	CriterionRol      = "rol"
	CriterionObjetivo = "objetivo"
	CriterionTono     = "tono"
	CriterionFormato  = "formato"
	CriterionLongitud = "longitud"
	CriterionCalidad  = "calidad"
)

// CriteriaNames lists every scorecard criterion in display order.
var CriteriaNames = []string{
	CriterionRol,
	CriterionObjetivo,
	CriterionTono,
	CriterionFormato,
	CriterionLongitud,
	CriterionCalidad,
}

// Scorecard is the body returned by POST /scorecard.
type Scorecard struct {
	Total    float64            `json:"total"`
	Max      float64            `json:"max"`
	Criteria map[string]float64 `json:"criteria"`
}

// Criterion returns the score for name, or 0 when the backend omitted it.
func (s Scorecard) Criterion(name string) float64 {
	if s.Criteria == nil {
		return 0
	}
	return s.Criteria[name]
}

// FormatScore renders a score the way the backend sent it (30, 27.5).
func FormatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ImproveResponse is the body returned by POST /improve-online.
type ImproveResponse struct {
	Prompt string `json:"prompt,omitempty"`
	Error  string `json:"error,omitempty"`
}

// PromptRecord is a composed prompt kept in local history.
type PromptRecord struct {
	ID             string     `json:"id"`
	Answers        Answers    `json:"answers"`
	Prompt         string     `json:"prompt"`
	Scorecard      *Scorecard `json:"scorecard,omitempty"`
	ImprovedPrompt string     `json:"improved_prompt,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// InboundMessage represents an incoming chat message from a relay participant.
type InboundMessage struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
