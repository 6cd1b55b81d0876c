package bulkops

import (
	"github.com/google/uuid"
	"github.com/wlan-tools/bulkops-backend/internal/domain"
)

// This struct is not thread-safe.
//
// There's no reason for this to be attempted, but a responseBuilder
// struct should only ever be modified/accessed from a single goroutine.
type responseBuilder struct {
	messageId        string // Identifier for the message. Optionally specified when the builder is created, or alternatively the builder will generate the ID automatically.
	op               string
	newSessions      []*domain.BulkSession    // Sessions the frontend has not seen before.
	modifiedSessions []*domain.BulkSession    // Modified sessions sent in their entirety.
	patchedSessions  []*domain.PatchedSession // Modified sessions sent as JSON merge patches.
	deletedSessions  []string                 // IDs of sessions that have been deleted.
}

// Pass an empty string for the 'msgId' parameter in order to have the message ID to be automatically generated (as a UUID).
func newResponseBuilder(msgId string, op string) *responseBuilder {
	if len(msgId) == 0 {
		msgId = uuid.NewString()
	}

	return &responseBuilder{
		messageId: msgId,
		op:        op,
	}
}

func (b *responseBuilder) AddModifiedSessionAsPatch(patch []byte, sessionId string) {
	patchedSession := &domain.PatchedSession{
		Patch:     string(patch),
		SessionId: sessionId,
	}

	b.patchedSessions = append(b.patchedSessions, patchedSession)
}

func (b *responseBuilder) AddModifiedSession(session *domain.BulkSession) {
	b.modifiedSessions = append(b.modifiedSessions, session)
}

func (b *responseBuilder) WithNewSession(newSession *domain.BulkSession) *responseBuilder {
	b.newSessions = append(b.newSessions, newSession)
	return b
}

func (b *responseBuilder) WithModifiedSession(modifiedSession *domain.BulkSession) *responseBuilder {
	b.modifiedSessions = append(b.modifiedSessions, modifiedSession)
	return b
}

func (b *responseBuilder) WithModifiedSessions(modifiedSessions []*domain.BulkSession) *responseBuilder {
	b.modifiedSessions = append(b.modifiedSessions, modifiedSessions...)
	return b
}

func (b *responseBuilder) WithDeletedSessions(deletedSessionIds []string) *responseBuilder {
	b.deletedSessions = deletedSessionIds
	return b
}

func (b *responseBuilder) BuildResponse() *domain.SessionsResponse {
	response := &domain.SessionsResponse{
		MessageId:        b.messageId,
		NewSessions:      b.newSessions,
		ModifiedSessions: b.modifiedSessions,
		PatchedSessions:  b.patchedSessions,
		DeletedSessions:  b.deletedSessions,
		Operation:        b.op,
		Status:           domain.ResponseStatusOK,
	}

	if response.NewSessions == nil {
		response.NewSessions = make([]*domain.BulkSession, 0)
	}

	if response.ModifiedSessions == nil {
		response.ModifiedSessions = make([]*domain.BulkSession, 0)
	}

	if response.PatchedSessions == nil {
		response.PatchedSessions = make([]*domain.PatchedSession, 0)
	}

	if response.DeletedSessions == nil {
		response.DeletedSessions = make([]string, 0)
	}

	return response
}
