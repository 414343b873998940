package telegram

import "encoding/json"

// manifestKind tags the content_ref JSON blob written for a completed
// Telegram-backed object.
const manifestKind = "telegram_manifest_v1"

// manifest is the chunk index stored as an object's content_ref. Reading
// the object back means resolving each part's file_id in order.
type manifest struct {
	Kind         string         `json:"kind"`
	StorageType  string         `json:"storage_type"`
	TargetChatID string         `json:"target_chat_id"`
	Parts        []manifestPart `json:"parts"`
}

type manifestPart struct {
	PartNo       int    `json:"partNo"`
	Size         int64  `json:"size"`
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id,omitempty"`
	MessageID    int64  `json:"message_id"`
	ChatID       string `json:"chat_id"`
}

func buildManifest(chatID string, parts []manifestPart) manifest {
	return manifest{Kind: manifestKind, StorageType: "TELEGRAM", TargetChatID: chatID, Parts: parts}
}

func (m manifest) totalSize() int64 {
	var total int64
	for _, p := range m.Parts {
		total += p.Size
	}
	return total
}

func (m manifest) marshal() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func parseManifest(s string) (manifest, error) {
	var m manifest
	err := json.Unmarshal([]byte(s), &m)
	return m, err
}
