package etl

import (
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/tapestry-ai/tapestry/internal/model"
	"github.com/tapestry-ai/tapestry/internal/storage"
)

// chatgptPreviewLimit caps the preview text stored on a thread.
const chatgptPreviewLimit = 120

// chatgptRecordSchema describes one exported conversation object.
var chatgptRecordSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"conversation_id": {"type": "string"},
		"id": {"type": "string"},
		"title": {"type": "string"},
		"create_time": {"type": "number"},
		"update_time": {"type": "number"}
	}
}`)

// ChatGPTPipe reads a ChatGPT data export's conversations.json, one
// conversation per record.
type ChatGPTPipe struct{}

// NewChatGPTPipe creates the ChatGPT conversations pipe.
func NewChatGPTPipe() *ChatGPTPipe {
	return &ChatGPTPipe{}
}

// Provider implements Pipe.
func (p *ChatGPTPipe) Provider() string { return "chatgpt" }

// InteractionType implements Pipe.
func (p *ChatGPTPipe) InteractionType() string { return "chat" }

// ArchiveVersion implements Pipe.
func (p *ChatGPTPipe) ArchiveVersion() string { return "2024-export" }

// ArchivePathPattern implements Pipe.
func (p *ChatGPTPipe) ArchivePathPattern() string { return "*/conversations.json" }

// RecordSchema implements Pipe.
func (p *ChatGPTPipe) RecordSchema() json.RawMessage { return chatgptRecordSchema }

// ExtractFile implements Pipe. conversations.json is a single JSON array;
// records are decoded one element at a time.
func (p *ChatGPTPipe) ExtractFile(uri string, store storage.Storage) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		blob, err := store.Get(uri)
		if err != nil {
			yield(nil, err)

			return
		}
		defer blob.Close()

		dec := json.NewDecoder(blob)

		_, err = dec.Token()
		if err != nil {
			yield(nil, fmt.Errorf("read array open: %w", err))

			return
		}

		for dec.More() {
			var record json.RawMessage

			decodeErr := dec.Decode(&record)
			if decodeErr != nil {
				yield(nil, fmt.Errorf("decode conversation: %w", decodeErr))

				return
			}

			if !yield(record, nil) {
				return
			}
		}
	}
}

// chatgptConversation is the subset of an exported conversation the
// transform needs.
type chatgptConversation struct {
	ConversationID string  `json:"conversation_id"`
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	CreateTime     float64 `json:"create_time"`
	UpdateTime     float64 `json:"update_time"`
}

// chatgptPayload is the normalized thread payload. conversation_id is the
// collection key the collection grouper partitions on.
type chatgptPayload struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

// Transform implements Pipe. Conversations without an id or a creation
// time are skipped.
func (p *ChatGPTPipe) Transform(record Record, _ *model.EtlTask) (*model.Thread, error) {
	var conv chatgptConversation

	err := json.Unmarshal(record, &conv)
	if err != nil {
		return nil, fmt.Errorf("parse conversation: %w", err)
	}

	id := conv.ConversationID
	if id == "" {
		id = conv.ID
	}

	if id == "" || conv.CreateTime == 0 {
		return nil, nil
	}

	created := unixTime(conv.CreateTime)

	asat := created
	if conv.UpdateTime > 0 {
		asat = unixTime(conv.UpdateTime)
	}

	payload := chatgptPayload{
		ConversationID: id,
		Title:          conv.Title,
		CreatedAt:      created.Format(time.RFC3339),
	}
	if conv.UpdateTime > 0 {
		payload.UpdatedAt = asat.Format(time.RFC3339)
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	key, err := model.UniqueKey(p.InteractionType(), payload)
	if err != nil {
		return nil, err
	}

	return &model.Thread{
		ID:              uuid.NewString(),
		UniqueKey:       key,
		Provider:        p.Provider(),
		InteractionType: p.InteractionType(),
		Preview:         truncate(conv.Title, chatgptPreviewLimit),
		Payload:         payloadJSON,
		Version:         p.ArchiveVersion(),
		AsAt:            asat,
		RawSource:       record,
	}, nil
}

// unixTime converts a fractional unix timestamp to UTC.
func unixTime(sec float64) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}

// truncate shortens s to at most limit runes.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	return string(runes[:limit])
}
