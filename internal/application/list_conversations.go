package application

import (
	"context"

	"github.com/clinicdesk/messaging/internal/domain"
)

// ListConversations returns the caller's conversations, most recent activity
// first. Participant details are resolved with a single directory lookup.
func (s *Service) ListConversations(
	ctx context.Context,
	callerID string,
) (_ []*ConversationDetails, err error) {

	ctx, span := startSpan(ctx, "ListConversations")
	defer func() { endSpan(span, err) }()

	if callerID == "" {
		return nil, domain.ErrInvalidInput
	}

	var convs []*domain.Conversation
	err = s.retryRead(ctx, "ListConversations", func(ctx context.Context) error {
		var err error
		convs, err = s.repo.ListForParticipant(ctx, callerID)
		return err
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, c := range convs {
		for _, id := range c.ParticipantIDs() {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	users := s.lookupUsers(ctx, ids)

	out := make([]*ConversationDetails, 0, len(convs))
	for _, c := range convs {
		out = append(out, s.assemble(c, callerID, users))
	}
	return out, nil
}

// GetConversation returns one conversation the caller participates in.
// The read may be served from the cache.
func (s *Service) GetConversation(
	ctx context.Context,
	callerID string,
	conversationID string,
) (_ *ConversationDetails, err error) {

	ctx, span := startSpan(ctx, "GetConversation")
	defer func() { endSpan(span, err) }()

	if callerID == "" || conversationID == "" {
		return nil, domain.ErrInvalidInput
	}

	var conv *domain.Conversation
	err = s.retryRead(ctx, "GetConversation", func(ctx context.Context) error {
		var err error
		conv, err = s.repo.GetConversation(ctx, nil, conversationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := conv.CanSend(callerID); err != nil {
		return nil, s.accessError(err)
	}

	return s.details(ctx, conv, callerID), nil
}
