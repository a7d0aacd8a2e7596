// Package record holds the immutable value types stored in the ledger and the
// signing rules that make a Result verifiable by any reader.
package record

// SchemaVersion is stamped on every Result produced by this module.
const SchemaVersion = "1.0.0"

// Challenge is a content addressed prompt issued by an environment.
type Challenge struct {
	Env         string         `json:"env"`
	Prompt      string         `json:"prompt"`
	Extra       map[string]any `json:"extra"`
	ChallengeID string         `json:"challenge_id"`
}

// Response is the outcome of querying one miner with one challenge.
type Response struct {
	Response       *string `json:"response"`
	LatencySeconds float64 `json:"latency_seconds"`
	Attempts       int     `json:"attempts"`
	Model          string  `json:"model"`
	Error          *string `json:"error"`
	Success        bool    `json:"success"`
}

// Evaluation is an environment's grade of a Response.
type Evaluation struct {
	Env   string         `json:"env"`
	Score float64        `json:"score"`
	Extra map[string]any `json:"extra"`
}

// Miner is a snapshot of a registered participant's published configuration.
// An empty Model means the participant has nothing to query.
type Miner struct {
	UID      int    `json:"uid"`
	Hotkey   string `json:"hotkey"`
	Model    string `json:"model"`
	Revision string `json:"revision"`
	Block    int    `json:"block"`
	Endpoint string `json:"endpoint"`
}

// Result is the unit of ledger storage. SignerIdentity is the validator that
// produced it; Miner.Hotkey is the participant it scores.
type Result struct {
	Version        string     `json:"version"`
	Signature      string     `json:"signature"`
	SignerIdentity string     `json:"signer_identity"`
	Miner          Miner      `json:"miner"`
	Challenge      Challenge  `json:"challenge"`
	Response       Response   `json:"response"`
	Evaluation     Evaluation `json:"evaluation"`
}
