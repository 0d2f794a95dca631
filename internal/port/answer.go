package port

import "context"

// ContextItem is one retrieved chunk handed to the answer service.
type ContextItem struct {
	Text string `json:"text"`
	File string `json:"file"`
}

// AnswerRequest is the body accepted by the answer-generation service.
type AnswerRequest struct {
	Question      string        `json:"question"`
	Context       []ContextItem `json:"context"`
	ModelProvider string        `json:"model_provider,omitempty"`
}

// AnswerResponse is returned by the answer-generation service.
type AnswerResponse struct {
	Answer    string `json:"answer"`
	ModelUsed string `json:"model_used"`
}

// Answerer turns a question plus retrieved context into an answer.
type Answerer interface {
	Answer(ctx context.Context, req AnswerRequest) (AnswerResponse, error)
}
