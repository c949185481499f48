package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// CommandKind defines the type of command. It is a closed enum: payload
// shape is validated per kind at creation time, not at delivery time.
type CommandKind string

const (
	KindDispense     CommandKind = "dispense"
	KindReboot       CommandKind = "reboot"
	KindUpdateRecipe CommandKind = "update_recipe"
	KindDiagnostics  CommandKind = "diagnostics"
	KindCustom       CommandKind = "custom"
)

// Kinds lists every valid command kind.
func Kinds() []CommandKind {
	return []CommandKind{KindDispense, KindReboot, KindUpdateRecipe, KindDiagnostics, KindCustom}
}

// Valid reports whether k is a known command kind.
func (k CommandKind) Valid() bool {
	switch k {
	case KindDispense, KindReboot, KindUpdateRecipe, KindDiagnostics, KindCustom:
		return true
	}
	return false
}

// CommandState represents the lifecycle phase of a command.
type CommandState string

const (
	StateCreated    CommandState = "created"
	StateDispatched CommandState = "dispatched"
	StateCompleted  CommandState = "completed"
	StateFailed     CommandState = "failed"
	StateExpired    CommandState = "expired"
)

// Terminal reports whether the state permits no further transitions.
func (s CommandState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateExpired:
		return true
	}
	return false
}

// Command represents a single operator-issued instruction targeted at one
// vending device. Once a command reaches a terminal state it is immutable;
// it is retained for audit but leaves the pending queue.
type Command struct {
	// ID is the unique command identifier ("cmd-" + uuid).
	ID string `json:"commandId"`

	// DeviceID is the target device.
	DeviceID string `json:"deviceId"`

	// TenantID scopes the command to the operator tenant that issued it.
	TenantID string `json:"tenantId"`

	// Kind is the command type.
	Kind CommandKind `json:"kind"`

	// Payload carries kind-specific arguments, validated at creation.
	Payload json.RawMessage `json:"payload,omitempty"`

	// State is the current lifecycle phase.
	State CommandState `json:"state"`

	// CreatedAt is when the command was issued.
	CreatedAt time.Time `json:"createdAt"`

	// Deadline is the instant after which the sweep may expire the command.
	Deadline time.Time `json:"deadline"`

	// Result holds the device-reported outcome detail, set on completion.
	Result json.RawMessage `json:"result,omitempty"`

	// ResultAt is when the result was applied.
	ResultAt *time.Time `json:"resultAt,omitempty"`

	// Attempts counts delivery attempts over any channel.
	Attempts int `json:"attempts"`
}

// Clone returns a deep copy, so store snapshots cannot be mutated by callers.
func (c *Command) Clone() *Command {
	if c == nil {
		return nil
	}
	out := *c
	if c.Payload != nil {
		out.Payload = append(json.RawMessage(nil), c.Payload...)
	}
	if c.Result != nil {
		out.Result = append(json.RawMessage(nil), c.Result...)
	}
	if c.ResultAt != nil {
		t := *c.ResultAt
		out.ResultAt = &t
	}
	return &out
}

// dispensePayload is the expected shape for dispense commands.
type dispensePayload struct {
	Slot     string `json:"slot"`
	Quantity int    `json:"quantity"`
}

// rebootPayload is the expected shape for reboot commands.
type rebootPayload struct {
	DelaySeconds int `json:"delaySeconds"`
}

// updateRecipePayload is the expected shape for update_recipe commands.
// Exactly one of ArtifactKey or PackageURL locates the recipe package;
// ArtifactKey is resolved to a presigned URL by the hub before dispatch.
type updateRecipePayload struct {
	RecipeID    string `json:"recipeId"`
	ArtifactKey string `json:"artifactKey"`
	PackageURL  string `json:"packageUrl"`
	MD5         string `json:"md5"`
}

// ValidatePayload checks the payload shape for the given kind. Kinds with
// no required arguments accept an empty payload.
func ValidatePayload(kind CommandKind, payload json.RawMessage) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown command kind %q", kind)
	}

	switch kind {
	case KindDispense:
		var p dispensePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("dispense payload: %w", err)
		}
		if p.Slot == "" {
			return fmt.Errorf("dispense payload: slot is required")
		}
		if p.Quantity < 0 {
			return fmt.Errorf("dispense payload: quantity must not be negative")
		}
	case KindReboot:
		if len(payload) == 0 {
			return nil
		}
		var p rebootPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("reboot payload: %w", err)
		}
		if p.DelaySeconds < 0 {
			return fmt.Errorf("reboot payload: delaySeconds must not be negative")
		}
	case KindUpdateRecipe:
		var p updateRecipePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("update_recipe payload: %w", err)
		}
		if p.RecipeID == "" {
			return fmt.Errorf("update_recipe payload: recipeId is required")
		}
		if p.ArtifactKey == "" && p.PackageURL == "" {
			return fmt.Errorf("update_recipe payload: artifactKey or packageUrl is required")
		}
	case KindDiagnostics:
		if len(payload) == 0 {
			return nil
		}
		if !json.Valid(payload) {
			return fmt.Errorf("diagnostics payload: invalid JSON")
		}
	case KindCustom:
		if len(payload) == 0 {
			return fmt.Errorf("custom payload: payload is required")
		}
		if !json.Valid(payload) {
			return fmt.Errorf("custom payload: invalid JSON")
		}
	}

	return nil
}
