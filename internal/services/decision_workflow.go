package services

import (
	"context"
	"fmt"

	"perspective-engine/backend/internal/repository"
	"perspective-engine/backend/internal/workflow"
	"perspective-engine/backend/pkg/models"
)

// Step names of the decision pipeline, in execution order.
const (
	StepFetchHistory = "fetch-history"
	StepReason       = "reason"
	StepPersist      = "persist"
)

// Logger defines the logging interface compatible with the application logger.
type Logger = workflow.Logger

// DecisionOptions tunes the decision pipeline.
type DecisionOptions struct {
	Model        string
	SystemPrompt string
	// HistoryLimit is the number of past decisions given to the model.
	HistoryLimit int
}

// DecisionWorkflow is the handler that analyzes a decision against the
// user's recent history and records the result.
type DecisionWorkflow struct {
	history  repository.DecisionStore
	reasoner Reasoner
	opts     DecisionOptions
	logger   Logger
}

// NewDecisionWorkflow creates a new DecisionWorkflow.
func NewDecisionWorkflow(history repository.DecisionStore, reasoner Reasoner, opts DecisionOptions, logger Logger) *DecisionWorkflow {
	return &DecisionWorkflow{
		history:  history,
		reasoner: reasoner,
		opts:     opts,
		logger:   logger,
	}
}

// Handle runs fetch-history, reason and persist for one instance and returns
// the analysis. It satisfies workflow.Handler.
func (w *DecisionWorkflow) Handle(ctx context.Context, run *workflow.Run) (string, error) {
	input := run.Input()

	history, err := workflow.Step(ctx, run, StepFetchHistory, func(ctx context.Context) ([]models.DecisionEntry, error) {
		if w.opts.HistoryLimit <= 0 {
			return []models.DecisionEntry{}, nil
		}
		return w.history.RecentDecisions(ctx, input.UserID, w.opts.HistoryLimit)
	})
	if err != nil {
		return "", err
	}

	analysis, err := workflow.Step(ctx, run, StepReason, func(ctx context.Context) (string, error) {
		messages := BuildConversation(w.opts.SystemPrompt, history, input.Prompt)
		text, err := w.reasoner.Run(ctx, w.opts.Model, messages)
		if err != nil {
			return "", err
		}
		if text == "" {
			return "", ErrEmptyResponse
		}
		return text, nil
	})
	if err != nil {
		return "", err
	}

	if _, err := workflow.Step(ctx, run, StepPersist, func(ctx context.Context) (int64, error) {
		entry := &models.DecisionEntry{
			UserID:   input.UserID,
			Prompt:   input.Prompt,
			Analysis: analysis,
		}
		if err := w.history.SaveDecision(ctx, entry); err != nil {
			return 0, fmt.Errorf("save decision: %w", err)
		}
		return entry.ID, nil
	}); err != nil {
		return "", err
	}

	w.logger.Info("decision analyzed", "instance_id", run.InstanceID(), "user_id", input.UserID, "history", len(history))
	return analysis, nil
}

// BuildConversation assembles the messages sent to the reasoner: the system
// instruction, the past prompts oldest first, then the current decision.
// history is expected newest first, as DecisionStore returns it.
func BuildConversation(systemPrompt string, history []models.DecisionEntry, prompt string) []models.Message {
	messages := make([]models.Message, 0, len(history)+2)
	messages = append(messages, models.Message{Role: models.RoleSystem, Content: systemPrompt})
	for i := len(history) - 1; i >= 0; i-- {
		messages = append(messages, models.Message{Role: models.RoleUser, Content: history[i].Prompt})
	}
	messages = append(messages, models.Message{Role: models.RoleUser, Content: "Decision: " + prompt})
	return messages
}
