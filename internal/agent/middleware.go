package agent

import (
	"context"
	"fmt"

	"github.com/hulunote/hulunote/pkg/models"
)

// Middleware is one pipeline stage. A stage implements any subset of the
// extension-point interfaces below; a missing extension point is a no-op.
type Middleware interface {
	Name() string
}

// ToolSource contributes tools to every iteration's tool list.
type ToolSource interface {
	Tools(ctx context.Context, state *State) []ToolDescriptor
}

// PromptModifier edits the system prompt. Stages fold in order, each
// receiving the previous stage's output.
type PromptModifier interface {
	ModifySystemPrompt(ctx context.Context, prompt string, state *State) string
}

// MessagePreprocessor rewrites the transcript before each model request.
// An error aborts the run.
type MessagePreprocessor interface {
	BeforeModelCall(ctx context.Context, messages []models.Message, state *State) ([]models.Message, error)
}

// ToolResultProcessor post-processes each tool result before it is appended
// to the transcript.
type ToolResultProcessor interface {
	AfterToolExecution(ctx context.Context, call ToolInvocation, content string, state *State) string
}

// Completer transforms the final assistant reply.
type Completer interface {
	OnComplete(ctx context.Context, reply models.Message, state *State) models.Message
}

// ToolInvocation describes an executed tool call as seen by result processors.
type ToolInvocation struct {
	ID   string
	Name string
	Args map[string]any
}

// StageFuncs adapts plain functions into a pipeline stage. Nil functions are
// no-ops.
type StageFuncs struct {
	StageName        string
	ToolsFunc        func(ctx context.Context, state *State) []ToolDescriptor
	SystemPromptFunc func(ctx context.Context, prompt string, state *State) string
	BeforeModelFunc  func(ctx context.Context, messages []models.Message, state *State) ([]models.Message, error)
	AfterToolFunc    func(ctx context.Context, call ToolInvocation, content string, state *State) string
	OnCompleteFunc   func(ctx context.Context, reply models.Message, state *State) models.Message
}

// Name returns the stage name.
func (s *StageFuncs) Name() string {
	if s.StageName == "" {
		return "funcs"
	}
	return s.StageName
}

// Tools calls ToolsFunc.
func (s *StageFuncs) Tools(ctx context.Context, state *State) []ToolDescriptor {
	if s.ToolsFunc == nil {
		return nil
	}
	return s.ToolsFunc(ctx, state)
}

// ModifySystemPrompt calls SystemPromptFunc.
func (s *StageFuncs) ModifySystemPrompt(ctx context.Context, prompt string, state *State) string {
	if s.SystemPromptFunc == nil {
		return prompt
	}
	return s.SystemPromptFunc(ctx, prompt, state)
}

// BeforeModelCall calls BeforeModelFunc.
func (s *StageFuncs) BeforeModelCall(ctx context.Context, messages []models.Message, state *State) ([]models.Message, error) {
	if s.BeforeModelFunc == nil {
		return messages, nil
	}
	return s.BeforeModelFunc(ctx, messages, state)
}

// AfterToolExecution calls AfterToolFunc.
func (s *StageFuncs) AfterToolExecution(ctx context.Context, call ToolInvocation, content string, state *State) string {
	if s.AfterToolFunc == nil {
		return content
	}
	return s.AfterToolFunc(ctx, call, content, state)
}

// OnComplete calls OnCompleteFunc.
func (s *StageFuncs) OnComplete(ctx context.Context, reply models.Message, state *State) models.Message {
	if s.OnCompleteFunc == nil {
		return reply
	}
	return s.OnCompleteFunc(ctx, reply, state)
}

// Pipeline is an ordered, fixed sequence of stages. Every extension point is
// applied across the whole sequence in stage order.
type Pipeline []Middleware

// Names returns the stage names in order.
func (p Pipeline) Names() []string {
	names := make([]string, len(p))
	for i, mw := range p {
		names[i] = mw.Name()
	}
	return names
}

// CollectTools concatenates every stage's tools in stage order.
func (p Pipeline) CollectTools(ctx context.Context, state *State) []ToolDescriptor {
	var tools []ToolDescriptor
	for _, mw := range p {
		if src, ok := mw.(ToolSource); ok {
			tools = append(tools, src.Tools(ctx, state)...)
		}
	}
	return tools
}

// SystemPrompt folds every stage's prompt modification over base.
func (p Pipeline) SystemPrompt(ctx context.Context, base string, state *State) string {
	prompt := base
	for _, mw := range p {
		if pm, ok := mw.(PromptModifier); ok {
			prompt = pm.ModifySystemPrompt(ctx, prompt, state)
		}
	}
	return prompt
}

// BeforeModelCall chains every stage's preprocessing left to right.
func (p Pipeline) BeforeModelCall(ctx context.Context, messages []models.Message, state *State) ([]models.Message, error) {
	current := messages
	for _, mw := range p {
		pre, ok := mw.(MessagePreprocessor)
		if !ok {
			continue
		}
		next, err := pre.BeforeModelCall(ctx, current, state)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", mw.Name(), err)
		}
		current = next
	}
	return current, nil
}

// AfterToolExecution chains every stage's result post-processing.
func (p Pipeline) AfterToolExecution(ctx context.Context, call ToolInvocation, content string, state *State) string {
	for _, mw := range p {
		if proc, ok := mw.(ToolResultProcessor); ok {
			content = proc.AfterToolExecution(ctx, call, content, state)
		}
	}
	return content
}

// OnComplete chains every stage's finalization.
func (p Pipeline) OnComplete(ctx context.Context, reply models.Message, state *State) models.Message {
	for _, mw := range p {
		if c, ok := mw.(Completer); ok {
			reply = c.OnComplete(ctx, reply, state)
		}
	}
	return reply
}
