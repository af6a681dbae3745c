package server

import (
	"github.com/raysh454/reconcile/internal/app"
	"github.com/raysh454/reconcile/internal/conflict"
	"github.com/raysh454/reconcile/internal/textdiff"
)

// Diff output formats.
const (
	FormatSegments = "segments"
	FormatUnified  = "unified"
	FormatHTML     = "html"
)

// DiffRequest asks for a diff of two texts.
type DiffRequest struct {
	Old         string `json:"old" example:"The quick fox"`
	New         string `json:"new" example:"The quick brown fox"`
	Granularity string `json:"granularity" example:"word" validate:"omitempty,oneof=word words line lines char chars character"`
	StripHTML   bool   `json:"strip_html"`
	Format      string `json:"format" example:"segments" validate:"omitempty,oneof=segments unified html"`
	// Context is the number of unchanged lines around unified hunks.
	Context *int `json:"context,omitempty" validate:"omitempty,gte=0"`
}

// DiffResponse carries the segments and, depending on the requested format, a
// rendering of them.
type DiffResponse struct {
	textdiff.Result
	Unified string `json:"unified,omitempty"`
	HTML    string `json:"html,omitempty"`
}

// MergeRequest merges two edits of Base without touching any document.
type MergeRequest struct {
	Base string                `json:"base" example:"Hello world"`
	A    conflict.EditSnapshot `json:"a"`
	B    conflict.EditSnapshot `json:"b"`
}

// MergeResponse is the merged text and, when the edits overlap, the detected conflict.
type MergeResponse struct {
	conflict.MergeResult
	Conflict *conflict.Conflict `json:"conflict,omitempty"`
}

// CreateDocumentRequest represents the payload required to create a document.
type CreateDocumentRequest struct {
	Title    string `json:"title" example:"Meeting notes" validate:"required,max=200"`
	Content  string `json:"content" example:"Agenda"`
	UserID   string `json:"user_id" example:"u-42" validate:"required"`
	UserName string `json:"user_name" example:"Alice"`
}

// WSMessage is exchanged over the document websocket besides app.Event. Clients send
// "edit" messages; the server answers with "edit_result" or "error" and greets every
// connection with a "snapshot" of the document.
type WSMessage struct {
	Type     string            `json:"type"`
	Edit     *app.EditRequest  `json:"edit,omitempty"`
	Document *app.DocumentView `json:"document,omitempty"`
	Outcome  *app.EditOutcome  `json:"outcome,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// WebSocket message types.
const (
	WSEdit       = "edit"
	WSEditResult = "edit_result"
	WSSnapshot   = "snapshot"
	WSError      = "error"
)

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error string `json:"error" example:"not found"`
}
