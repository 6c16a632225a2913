package cursor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/agentsync/agentsync/internal/canonical"
)

const providerName = "cursor"

// ConvertSession reads every message row belonging to sessionID out of the
// workspace database at dbPath and converts them to canonical form in row
// order. It is the entry point the normalize package drives; dbPath is
// whatever Descriptor.FilePath the scanner recorded for this session.
func ConvertSession(dbPath, sessionID string) ([]canonical.CanonicalMessage, error) {
	db, err := openReadOnly(dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	grouped, err := loadComposerMessages(db)
	if err != nil {
		return nil, err
	}
	rows := grouped[sessionID]

	createdAt := time.Now().UTC()
	if info, err := os.Stat(dbPath); err == nil {
		createdAt = info.ModTime()
	}

	out := make([]canonical.CanonicalMessage, 0, len(rows))
	for i, row := range rows {
		cm, err := ToCanonical(row, i, createdAt, sessionID, "")
		if err != nil {
			return nil, err
		}
		out = append(out, cm)
	}
	return out, nil
}

// ToCanonical converts one decoded composer message row into a canonical
// message. Cursor blobs carry no timestamp of their own, so the timestamp
// is synthesized from the session's creation time plus the row's position
// - the spec's documented stand-in for a producer that never records wall
// clock time per message.
func ToCanonical(msg composerMessage, rowIndex int, sessionCreatedAt time.Time, sessionID, cwd string) (canonical.CanonicalMessage, error) {
	ts := sessionCreatedAt.Add(time.Duration(rowIndex) * time.Second).UTC().Format("2006-01-02T15:04:05.000Z")

	role := inferRole(msg.Blob)
	kind := canonical.MessageTypeAssistant
	if role == "user" {
		kind = canonical.MessageTypeUser
	}

	text := msg.Blob.Content
	if text == "" && msg.Blob.ComplexMessage != nil {
		var cm struct {
			Content string `json:"content"`
		}
		if json.Unmarshal(msg.Blob.ComplexMessage, &cm) == nil {
			text = cm.Content
		}
	}

	uuid := msg.Blob.UUID
	if uuid == "" {
		uuid = syntheticUUID(sessionID, rowIndex)
	}

	cm := canonical.NewTextMessage(uuid, ts, kind, sessionID, providerName, role, text)
	cm.CWD = cwd
	cm.UserType = "external"
	if msg.Blob.Metadata != nil {
		cm.ProviderMetadata = msg.Blob.Metadata
	}
	return cm, nil
}

// syntheticUUID fills in an identifier for assistant-side blobs, which
// Cursor only ever tags with a uuid on the user side of a composer thread.
func syntheticUUID(sessionID string, rowIndex int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", sessionID, rowIndex)))
	return hex.EncodeToString(sum[:])[:32]
}

// inferRole applies the spec's role-inference precedence: an explicit role
// in the decoded complex message wins; otherwise the presence of a nested
// content wrapper implies an assistant turn; otherwise a non-empty uuid
// implies a user turn (Cursor only assigns message uuids on the user side
// of a composer thread); anything left over defaults to assistant.
func inferRole(b rawBlob) string {
	if b.ComplexMessage != nil {
		var cm complexMessage
		if json.Unmarshal(b.ComplexMessage, &cm) == nil && cm.Role != "" {
			return cm.Role
		}
		return "assistant"
	}
	if b.UUID != "" {
		return "user"
	}
	return "assistant"
}
