package opencode

import (
	"encoding/json"
	"time"
)

// Project is storage/project/<id>.json.
type Project struct {
	ID       string `json:"id"`
	Worktree string `json:"worktree"`
	VCS      string `json:"vcs,omitempty"`
	Time     Time   `json:"time"`
}

// Time is the set of millisecond-epoch lifecycle timestamps OpenCode
// attaches to projects, sessions, and messages. Not every stage fires for
// every record - CreatedTime/UpdatedTime fall back through whichever
// fields are actually present.
type Time struct {
	Created     int64 `json:"created,omitempty"`
	Initialized int64 `json:"initialized,omitempty"`
	Updated     int64 `json:"updated,omitempty"`
	Completed   int64 `json:"completed,omitempty"`
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// CreatedTime resolves the record's start time.
func (t Time) CreatedTime() time.Time {
	switch {
	case t.Created != 0:
		return fromMillis(t.Created)
	case t.Completed != 0:
		return fromMillis(t.Completed)
	case t.Initialized != 0:
		return fromMillis(t.Initialized)
	default:
		return fromMillis(t.Updated)
	}
}

// UpdatedTime resolves the record's last-touched time, preferring the most
// terminal timestamp available - messages mark completion with
// "completed" rather than "updated".
func (t Time) UpdatedTime() time.Time {
	switch {
	case t.Completed != 0:
		return fromMillis(t.Completed)
	case t.Updated != 0:
		return fromMillis(t.Updated)
	case t.Initialized != 0:
		return fromMillis(t.Initialized)
	default:
		return fromMillis(t.Created)
	}
}

// Session is storage/session/<projectID>/<sessionID>.json. ProjectID is
// frequently absent from the file itself - callers infer it from the
// enclosing directory name instead.
type Session struct {
	ID        string       `json:"id"`
	Version   string       `json:"version,omitempty"`
	ProjectID string       `json:"projectID,omitempty"`
	Directory string       `json:"directory,omitempty"`
	Title     string       `json:"title,omitempty"`
	ParentID  string       `json:"parentID,omitempty"`
	Time      Time         `json:"time"`
	Summary   *SessionDiff `json:"summary,omitempty"`
}

// SessionDiff is the optional aggregate git-diff summary a session carries.
type SessionDiff struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Files     int `json:"files"`
}

// Message is storage/message/<sessionID>/<messageID>.json.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	SessionID string    `json:"sessionID"`
	Time      Time      `json:"time"`
	ModelID   string    `json:"modelID,omitempty"`
	Model     *ModelRef `json:"model,omitempty"`
	Tokens    *Tokens   `json:"tokens,omitempty"`
	Cost      float64   `json:"cost,omitempty"`
}

// ModelRef names the model that produced an assistant message, when the
// message itself doesn't carry a flat ModelID.
type ModelRef struct {
	ModelID  string `json:"modelID"`
	Provider string `json:"providerID,omitempty"`
}

// Tokens is a step-finish part's (or a message's own) aggregate token
// usage.
type Tokens struct {
	Input     int64       `json:"input,omitempty"`
	Output    int64       `json:"output,omitempty"`
	Reasoning int64       `json:"reasoning,omitempty"`
	Cache     *TokenCache `json:"cache,omitempty"`
}

// TokenCache is the cache-read/cache-write split of a token count.
type TokenCache struct {
	Write int64 `json:"write,omitempty"`
	Read  int64 `json:"read,omitempty"`
}

// Part is storage/part/<messageID>/<partID>.json - OpenCode's atomic unit
// of message content. Type selects which of the producer-specific fields
// below are populated; the rest are left zero.
type Part struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Text      string    `json:"text,omitempty"`
	Synthetic bool      `json:"synthetic,omitempty"`
	Time      *PartTime `json:"time,omitempty"`
	MessageID string    `json:"messageID"`
	SessionID string    `json:"sessionID"`

	// Tool-specific fields (Type == "tool").
	Tool   string     `json:"tool,omitempty"`
	CallID string     `json:"callID,omitempty"`
	State  *ToolState `json:"state,omitempty"`

	// Step-finish fields (Type == "step-finish").
	Tokens *Tokens `json:"tokens,omitempty"`
	Cost   float64 `json:"cost,omitempty"`

	// Patch fields (Type == "patch").
	Files []string `json:"files,omitempty"`
	Hash  string   `json:"hash,omitempty"`

	// File fields (Type == "file").
	Filename string `json:"filename,omitempty"`
	Mime     string `json:"mime,omitempty"`
	URL      string `json:"url,omitempty"`
}

// PartTime brackets a part's own start/end, distinct from its parent
// message's lifecycle Time - a tool call's result can land well after the
// message that triggered it was created.
type PartTime struct {
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

// ToolState is a tool-type part's invocation state.
type ToolState struct {
	Status   string          `json:"status"`
	Input    json.RawMessage `json:"input,omitempty"`
	Output   string          `json:"output,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Title    string          `json:"title,omitempty"`
}

// SessionMetadata is the adapter's own cached summary of a session, built
// from its Session file plus a message-file count without reading message
// content.
type SessionMetadata struct {
	Path             string
	SessionID        string
	ProjectID        string
	Title            string
	ParentID         string
	FirstMsg         time.Time
	LastMsg          time.Time
	Additions        int
	Deletions        int
	FileCount        int
	MsgCount         int
	FirstUserMessage string
	TotalTokens      int
	EstCost          float64
}

// ToolInputString renders a tool part's input value as a display string,
// whether it was a JSON object, array, or bare scalar.
func ToolInputString(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(input, &s); err == nil {
		return s
	}
	return string(input)
}

// ToolOutputString renders a tool part's output value as a display string.
func ToolOutputString(output string) string {
	return output
}
