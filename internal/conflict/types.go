// Package conflict decides whether two concurrent edits of the same base text can be
// merged automatically, records the ones that cannot, and reconciles them on request.
//
// All operations are pure functions of their inputs; the caller owns persistence of
// Conflict records and of the resolutions attached to them.
package conflict

import (
	"errors"
	"time"
)

// ErrInvalidArgument is returned when a resolution request cannot be honored as given.
var ErrInvalidArgument = errors.New("invalid argument")

// Strategy selects how a conflict is reconciled.
type Strategy string

const (
	StrategyUserA  Strategy = "user-a"
	StrategyUserB  Strategy = "user-b"
	StrategyMerge  Strategy = "merge"
	StrategyCustom Strategy = "custom"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyUserA, StrategyUserB, StrategyMerge, StrategyCustom:
		return true
	}
	return false
}

// EditSnapshot is one author's candidate text at a point in time.
type EditSnapshot struct {
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Label names the author in conflict markers.
func (e EditSnapshot) Label(fallback string) string {
	switch {
	case e.UserName != "":
		return e.UserName
	case e.UserID != "":
		return e.UserID
	default:
		return fallback
	}
}

// Region is a span of the base text that both edits changed in incompatible ways.
// Start and End are byte offsets into the base; UserA and UserB hold what each side
// put in its place.
type Region struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	UserA string `json:"user_a"`
	UserB string `json:"user_b"`
}

// Conflict records two edits of BaseContent that touch overlapping regions.
type Conflict struct {
	ID          string       `json:"id"`
	Timestamp   time.Time    `json:"timestamp"`
	UserA       EditSnapshot `json:"user_a"`
	UserB       EditSnapshot `json:"user_b"`
	BaseContent string       `json:"base_content"`
	Regions     []Region     `json:"regions"`
	Resolution  *Resolution  `json:"resolution,omitempty"`
}

// Status is the lifecycle state of a conflict.
type Status string

const (
	StatusDetected Status = "detected"
	StatusResolved Status = "resolved"
)

// Status returns StatusResolved once a resolution is attached.
func (c *Conflict) Status() Status {
	if c.Resolution != nil {
		return StatusResolved
	}
	return StatusDetected
}

// Resolution is the outcome of resolving a conflict. It is created once and not
// modified afterwards.
type Resolution struct {
	Strategy      Strategy  `json:"strategy"`
	ChosenContent string    `json:"chosen_content"`
	ResolvedBy    string    `json:"resolved_by"`
	ResolvedAt    time.Time `json:"resolved_at"`
	Reasoning     string    `json:"reasoning,omitempty"`
}

// ResolveRequest asks for a conflict to be resolved with Strategy. CustomContent is
// required for StrategyCustom and ignored otherwise.
type ResolveRequest struct {
	Strategy      Strategy `json:"strategy"`
	CustomContent *string  `json:"custom_content,omitempty"`
	ResolvedBy    string   `json:"resolved_by"`
	Reasoning     string   `json:"reasoning,omitempty"`
}

// MergeResult is the text produced by a three-way merge. When HasConflicts is set the
// content carries conflict markers around each entry of Regions.
type MergeResult struct {
	Content      string   `json:"content"`
	HasConflicts bool     `json:"has_conflicts"`
	Regions      []Region `json:"regions,omitempty"`
}
