package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/bytedance/sonic"
)

// canonicalJSON emits sorted object keys with compact separators.
var canonicalJSON = sonic.Config{
	SortMapKeys: true,
	EscapeHTML:  false,
}.Froze()

// storedJSON keeps numeric literals intact so a decoded challenge re-canonicalizes
// to the exact bytes that were signed.
var storedJSON = sonic.Config{
	UseNumber: true,
}.Froze()

// NewChallenge builds a Challenge and derives its id.
func NewChallenge(env, prompt string, extra map[string]any) (*Challenge, error) {
	if extra == nil {
		extra = map[string]any{}
	}
	id, err := ChallengeID(env, prompt, extra)
	if err != nil {
		return nil, err
	}
	return &Challenge{Env: env, Prompt: prompt, Extra: extra, ChallengeID: id}, nil
}

// ChallengeID is the sha256 hex digest of the canonical JSON of {env, extra, prompt}.
func ChallengeID(env, prompt string, extra map[string]any) (string, error) {
	if extra == nil {
		extra = map[string]any{}
	}
	payload, err := canonicalJSON.Marshal(map[string]any{
		"env":    env,
		"prompt": prompt,
		"extra":  extra,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalize challenge: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalString is the message signed for a Result carrying this challenge.
func (c *Challenge) CanonicalString() (string, error) {
	extra := c.Extra
	if extra == nil {
		extra = map[string]any{}
	}
	payload, err := canonicalJSON.Marshal(map[string]any{
		"challenge_id": c.ChallengeID,
		"env":          c.Env,
		"prompt":       c.Prompt,
		"extra":        extra,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalize challenge: %w", err)
	}
	return string(payload), nil
}

// UnmarshalJSON keeps a stored id as is and derives it only when absent.
func (c *Challenge) UnmarshalJSON(b []byte) error {
	type plain Challenge
	var p plain
	if err := storedJSON.Unmarshal(b, &p); err != nil {
		return err
	}
	if p.Extra == nil {
		p.Extra = map[string]any{}
	}
	if p.ChallengeID == "" {
		id, err := ChallengeID(p.Env, p.Prompt, p.Extra)
		if err != nil {
			return err
		}
		p.ChallengeID = id
	}
	*c = Challenge(p)
	return nil
}

func (c *Challenge) String() string {
	prompt := c.Prompt
	if len(prompt) > 20 {
		prompt = prompt[:20] + "..."
	}
	return fmt.Sprintf("<Challenge env=%q id=%.12s prompt=%q>", c.Env, c.ChallengeID, prompt)
}
