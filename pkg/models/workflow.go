// Package models defines the domain models for the perspective engine
package models

import (
	"errors"
	"strings"
	"time"
)

// Status represents the lifecycle state of a workflow instance
type Status string

const (
	StatusRunning    Status = "running"
	StatusTerminated Status = "terminated"
	StatusErrored    Status = "errored"
)

// Terminal reports whether no further transitions can happen from s.
func (s Status) Terminal() bool {
	return s == StatusTerminated || s == StatusErrored
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusRunning || s.Terminal()
}

// AnalysisInput holds the immutable parameters supplied when an instance is created.
type AnalysisInput struct {
	Prompt string `json:"prompt"`
	UserID string `json:"userId"`
}

// Validate checks that the input carries a prompt and a user.
func (in AnalysisInput) Validate() error {
	if strings.TrimSpace(in.Prompt) == "" {
		return errors.New("prompt is required")
	}
	if strings.TrimSpace(in.UserID) == "" {
		return errors.New("user id is required")
	}
	return nil
}

// Instance is one run of the decision pipeline.
type Instance struct {
	ID     string        `json:"id"`
	Status Status        `json:"status"`
	Input  AnalysisInput `json:"input"`
	Output string        `json:"output,omitempty"`
	// Error keeps the raw failure for operators; it is never serialized.
	Error     string    `json:"-"`
	Steps     []string  `json:"steps,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StepRecord is the durable result of one named step of one instance.
type StepRecord struct {
	InstanceID string    `json:"instance_id"`
	StepName   string    `json:"step_name"`
	Result     []byte    `json:"result"`
	CreatedAt  time.Time `json:"created_at"`
}
