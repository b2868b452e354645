package postgres

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/dialogmesh/store"
)

type sessionMetaRow struct {
	DialogueType store.DialogueType `json:"dialogue_type"`
	Participants []string           `json:"participants"`
	Status       string             `json:"status,omitempty"`
	Extra        map[string]any     `json:"extra,omitempty"`
}

func encodeSessionMeta(md store.SessionMetadata) ([]byte, error) {
	row := sessionMetaRow{
		DialogueType: md.DialogueType,
		Participants: md.Participants,
		Status:       md.Status,
		Extra:        md.Extra,
	}
	b, err := json.Marshal(row)
	if err != nil {
		return nil, errors.Wrap(err, "encode session metadata")
	}
	return b, nil
}

func decodeSessionMeta(data []byte) (store.SessionMetadata, error) {
	var row sessionMetaRow
	rows, err := store.DecodeFlexible[sessionMetaRow](data)
	if err != nil {
		return store.SessionMetadata{}, errors.Wrap(err, "decode session metadata")
	}
	if len(rows) > 0 {
		row = rows[0]
	}
	return store.SessionMetadata{
		DialogueType: row.DialogueType,
		Participants: row.Participants,
		Status:       row.Status,
		Extra:        row.Extra,
	}, nil
}

type turnMetaRow struct {
	SenderID          string             `json:"sender_id"`
	MessageType       store.MessageType  `json:"message_type"`
	HumanChat         bool               `json:"human_chat"`
	ReadAt            map[string]int64   `json:"read_at,omitempty"`
	AIRole            string             `json:"ai_role,omitempty"`
	ProcessedAt       *int64             `json:"processed_at,omitempty"`
	DialogueType      store.DialogueType `json:"dialogue_type,omitempty"`
	Model             string             `json:"model,omitempty"`
	ToolsUsed         []string           `json:"tools_used,omitempty"`
	FrequencyAware    bool               `json:"frequency_aware,omitempty"`
	RelationshipStage string             `json:"relationship_stage,omitempty"`
	Extra             map[string]any     `json:"extra,omitempty"`
}

func encodeTurnMeta(md store.TurnMetadata) ([]byte, error) {
	row := turnMetaRow{
		SenderID:          md.SenderID,
		MessageType:       md.MessageType,
		HumanChat:         md.HumanChat,
		AIRole:            md.AIRole,
		DialogueType:      md.DialogueType,
		Model:             md.Model,
		ToolsUsed:         md.ToolsUsed,
		FrequencyAware:    md.FrequencyAware,
		RelationshipStage: md.RelationshipStage,
		Extra:             md.Extra,
	}
	if md.ReadAt != nil {
		row.ReadAt = make(map[string]int64, len(md.ReadAt))
		for user, at := range md.ReadAt {
			row.ReadAt[user] = at.UnixMilli()
		}
	}
	if md.ProcessedAt != nil {
		ms := md.ProcessedAt.UnixMilli()
		row.ProcessedAt = &ms
	}
	b, err := json.Marshal(row)
	if err != nil {
		return nil, errors.Wrap(err, "encode turn metadata")
	}
	return b, nil
}

func decodeTurnMeta(data []byte) (store.TurnMetadata, error) {
	var row turnMetaRow
	rows, err := store.DecodeFlexible[turnMetaRow](data)
	if err != nil {
		return store.TurnMetadata{}, errors.Wrap(err, "decode turn metadata")
	}
	if len(rows) > 0 {
		row = rows[0]
	}
	md := store.TurnMetadata{
		SenderID:          row.SenderID,
		MessageType:       row.MessageType,
		HumanChat:         row.HumanChat,
		AIRole:            row.AIRole,
		DialogueType:      row.DialogueType,
		Model:             row.Model,
		ToolsUsed:         row.ToolsUsed,
		FrequencyAware:    row.FrequencyAware,
		RelationshipStage: row.RelationshipStage,
		Extra:             row.Extra,
	}
	if row.ReadAt != nil {
		md.ReadAt = make(map[string]time.Time, len(row.ReadAt))
		for user, ms := range row.ReadAt {
			md.ReadAt[user] = time.UnixMilli(ms)
		}
	}
	if row.ProcessedAt != nil {
		t := time.UnixMilli(*row.ProcessedAt)
		md.ProcessedAt = &t
	}
	return md, nil
}
