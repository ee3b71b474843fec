// Package assist wraps the hosted prompt-completion service: phone number
// abuse screening and username suggestions.
package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"whisper-link/internal/profile"
	"whisper-link/internal/utils"
)

const (
	maxSuggestionAttempts = 5
	wantedSuggestions     = 5
)

//go:generate mockgen -destination=mocks/mock_completer.go -package=mocks whisper-link/internal/assist Completer

// Completer sends one prompt and returns the model's JSON answer.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// UsernameLookup reports which candidate usernames already exist.
type UsernameLookup interface {
	ExistingUsernames(ctx context.Context, candidates []string) (map[string]bool, error)
}

type PhoneVerdict struct {
	IsAbusive bool   `json:"isAbusive"`
	Reason    string `json:"reason,omitempty"`
}

type Assistant struct {
	completer Completer
	usernames UsernameLookup
}

// NewAssistant builds an Assistant. A nil completer disables the prompt
// service: phone numbers pass screening and suggestions fail.
func NewAssistant(completer Completer, usernames UsernameLookup) *Assistant {
	return &Assistant{completer: completer, usernames: usernames}
}

const phoneSystemPrompt = `You detect phone numbers associated with spam, fraud or other abusive activity.
Consider presence on known spam lists, temporary or disposable number services and suspicious history.
Answer with a JSON object {"isAbusive": boolean, "reason": string}. Give a brief reason only when isAbusive is true.`

func (a *Assistant) CheckPhoneNumber(ctx context.Context, phone string) (PhoneVerdict, error) {
	if a.completer == nil {
		log.Printf("Assist: prompt service not configured, skipping abuse check")
		return PhoneVerdict{}, nil
	}

	answer, err := a.completer.Complete(ctx, phoneSystemPrompt, "Phone Number: "+phone)
	if err != nil {
		return PhoneVerdict{}, utils.NewAppError(utils.ErrUpstream, "Phone number check failed", err)
	}
	var verdict PhoneVerdict
	if err := json.Unmarshal([]byte(extractJSON(answer)), &verdict); err != nil {
		return PhoneVerdict{}, utils.NewAppError(utils.ErrUpstream, "Phone number check returned malformed output", err)
	}
	return verdict, nil
}

const usernameSystemPrompt = `You are an expert in creating unique and catchy usernames.
The usernames must be a single word, lowercase, and may contain letters, numbers and underscores only.
Answer with a JSON object {"suggestions": [string]}.`

// SuggestUsernames asks for candidates up to five times, keeping only those
// not already taken, until five unique suggestions are collected.
func (a *Assistant) SuggestUsernames(ctx context.Context, name string) ([]string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, utils.NewInvalidInputError("Name is required for suggestions")
	}
	if a.completer == nil {
		return nil, utils.NewAppError(utils.ErrUpstream, "Username suggestions are not configured", nil)
	}

	prompt := fmt.Sprintf("Based on the user's full name, %q, generate a list of 5 creative and memorable username suggestions.", name)

	suggestions := make([]string, 0, wantedSuggestions)
	seen := make(map[string]bool)
	for attempt := 1; attempt <= maxSuggestionAttempts && len(suggestions) < wantedSuggestions; attempt++ {
		candidates, err := a.requestCandidates(ctx, prompt)
		if err != nil {
			log.Printf("Assist: suggestion attempt %d failed: %v", attempt, err)
			continue
		}
		if len(candidates) == 0 {
			continue
		}

		taken, err := a.usernames.ExistingUsernames(ctx, candidates)
		if err != nil {
			log.Printf("Assist: username lookup on attempt %d failed: %v", attempt, err)
			continue
		}
		for _, c := range candidates {
			if taken[c] || seen[c] {
				continue
			}
			seen[c] = true
			suggestions = append(suggestions, c)
		}
	}

	if len(suggestions) > wantedSuggestions {
		suggestions = suggestions[:wantedSuggestions]
	}
	return suggestions, nil
}

func (a *Assistant) requestCandidates(ctx context.Context, prompt string) ([]string, error) {
	answer, err := a.completer.Complete(ctx, usernameSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	var out struct {
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(extractJSON(answer)), &out); err != nil {
		return nil, fmt.Errorf("malformed suggestions: %w", err)
	}

	// Only names that registration would accept are worth offering.
	candidates := make([]string, 0, len(out.Suggestions))
	for _, s := range out.Suggestions {
		name, err := profile.ValidateUsername(s)
		if err != nil {
			continue
		}
		candidates = append(candidates, name)
	}
	return candidates, nil
}

// extractJSON trims anything around the outermost JSON object, such as a
// markdown code fence.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
