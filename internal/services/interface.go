package services

import (
	"context"
	"errors"

	"perspective-engine/backend/pkg/models"
)

// ErrEmptyResponse is returned when the reasoning engine answers with no text.
var ErrEmptyResponse = errors.New("reasoner: empty response")

// Reasoner is an interface for the language model that analyzes decisions.
type Reasoner interface {
	// Run sends the conversation to model and returns the generated text.
	Run(ctx context.Context, model string, messages []models.Message) (string, error)
}
