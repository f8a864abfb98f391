package badger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/storage"
)

// ConversationRepository implements storage.ConversationRepository for BadgerDB.
//
// Layout:
//   - conv:<id> holds the conversation record
//   - convupd:<updatedAt>:<id> indexes conversations by recency
//   - msg:<conversation>:<sequence> holds each message
//   - fb:<conversation>:<sequence> holds feedback beside the message it rates
type ConversationRepository struct {
	backend *Backend
	convSeq *badger.Sequence
	msgSeq  *badger.Sequence
}

var _ storage.ConversationRepository = (*ConversationRepository)(nil)

// NewConversationRepository creates a new ConversationRepository.
func NewConversationRepository(backend *Backend) (*ConversationRepository, error) {
	convSeq, err := backend.GetSequence(conversationIDSeq)
	if err != nil {
		return nil, err
	}
	msgSeq, err := backend.GetSequence(messageIDSeq)
	if err != nil {
		convSeq.Release()
		return nil, err
	}

	return &ConversationRepository{
		backend: backend,
		convSeq: convSeq,
		msgSeq:  msgSeq,
	}, nil
}

// Close releases the ID sequences.
func (r *ConversationRepository) Close() error {
	return errors.Join(r.convSeq.Release(), r.msgSeq.Release())
}

// CreateConversation creates an empty conversation.
func (r *ConversationRepository) CreateConversation(ctx context.Context, title string) (*core.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = core.PlaceholderTitle
	}
	id, err := nextID(r.convSeq)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	conv := &core.Conversation{
		Id:        id,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = r.backend.Update(ctx, func(tx *badger.Txn) error {
		if err := writeRecord(tx, makeConversationKey(conv.Id), conv); err != nil {
			return err
		}
		return tx.Set(makeConversationUpdatedKey(conv), storage.MarshalID(conv.Id))
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversation retrieves a conversation by ID.
func (r *ConversationRepository) GetConversation(ctx context.Context, id core.ID) (*core.Conversation, error) {
	var conv *core.Conversation
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		conv, err = readRecord[core.Conversation](tx, makeConversationKey(id))
		if err != nil {
			return err
		}
		if conv == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return conv, err
}

// ListConversations returns conversations ordered by UpdatedAt descending.
func (r *ConversationRepository) ListConversations(ctx context.Context, skip, limit int) ([]*core.Conversation, error) {
	if skip < 0 {
		return nil, storage.ErrInvalidQuery
	}

	var results []*core.Conversation
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		seen := 0
		return scanPrefix(tx, []byte(conversationUpdPrefix), true, func(item *badger.Item) error {
			if limit > 0 && len(results) >= limit {
				return errStopScan
			}
			if seen < skip {
				seen++
				return nil
			}

			var convID core.ID
			if err := item.Value(func(val []byte) error {
				var err error
				convID, err = storage.UnmarshalID(val)
				return err
			}); err != nil {
				return err
			}

			conv, err := readRecord[core.Conversation](tx, makeConversationKey(convID))
			if err != nil {
				return err
			}
			if conv != nil {
				results = append(results, conv)
			}
			return nil
		})
	}, false)
	return results, err
}

// DeleteConversation removes a conversation with its messages and feedback.
func (r *ConversationRepository) DeleteConversation(ctx context.Context, id core.ID) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		key := makeConversationKey(id)
		conv, err := readRecord[core.Conversation](tx, key)
		if err != nil {
			return err
		}
		if conv == nil {
			return storage.ErrNotFound
		}
		if err := deletePrefix(tx, makeConversationMessagesPrefix(id)); err != nil {
			return err
		}
		if err := deletePrefix(tx, makeConversationFeedbackPrefix(id)); err != nil {
			return err
		}
		if err := tx.Delete(makeConversationUpdatedKey(conv)); err != nil {
			return err
		}
		return tx.Delete(key)
	})
}

// SetTitleIfUnset writes a generated title unless one was written already.
func (r *ConversationRepository) SetTitleIfUnset(ctx context.Context, id core.ID, title string) (bool, error) {
	updated := false
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		updated = false
		key := makeConversationKey(id)
		conv, err := readRecord[core.Conversation](tx, key)
		if err != nil {
			return err
		}
		if conv == nil {
			return storage.ErrNotFound
		}
		if conv.TitleGenerated {
			return nil
		}
		conv.Title = title
		conv.TitleGenerated = true
		updated = true
		return writeRecord(tx, key, conv)
	})
	return updated, err
}

// AppendMessages appends messages in one transaction.
// Sequence numbers continue from the conversation's message count.
func (r *ConversationRepository) AppendMessages(ctx context.Context, conversationID core.ID, msgs ...*core.Message) ([]*core.Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	// Draw IDs up front so a conflict retry doesn't burn sequence values
	ids := make([]core.ID, len(msgs))
	for i := range msgs {
		id, err := nextID(r.msgSeq)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}

	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		key := makeConversationKey(conversationID)
		conv, err := readRecord[core.Conversation](tx, key)
		if err != nil {
			return err
		}
		if conv == nil {
			return storage.ErrNotFound
		}

		now := time.Now().UTC()
		for i, msg := range msgs {
			msg.Id = ids[i]
			msg.ConversationId = conversationID
			msg.Sequence = uint64(conv.MessageCount + i)
			msg.Timestamp = now
			if err := core.ValidateMessage(msg); err != nil {
				return err
			}
			if err := writeRecord(tx, makeMessageKey(conversationID, msg.Sequence), msg); err != nil {
				return err
			}
		}

		if err := tx.Delete(makeConversationUpdatedKey(conv)); err != nil {
			return err
		}
		conv.MessageCount += len(msgs)
		conv.UpdatedAt = now
		if err := writeRecord(tx, key, conv); err != nil {
			return err
		}
		return tx.Set(makeConversationUpdatedKey(conv), storage.MarshalID(conv.Id))
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// GetMessages returns every message of a conversation in sequence order.
func (r *ConversationRepository) GetMessages(ctx context.Context, conversationID core.ID) ([]*core.Message, error) {
	return r.readMessages(conversationID, 0)
}

// GetRecentMessages returns the last limit messages in chronological order.
func (r *ConversationRepository) GetRecentMessages(ctx context.Context, conversationID core.ID, limit int) ([]*core.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	return r.readMessages(conversationID, limit)
}

// readMessages reads a conversation's messages. With a positive limit only the
// newest limit messages are read, walking the sequence index backwards.
func (r *ConversationRepository) readMessages(conversationID core.ID, limit int) ([]*core.Message, error) {
	var results []*core.Message
	reverse := limit > 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, makeConversationMessagesPrefix(conversationID), reverse, func(item *badger.Item) error {
			if reverse && len(results) >= limit {
				return errStopScan
			}
			return item.Value(func(val []byte) error {
				msg, err := storage.Unmarshal[core.Message](val)
				if err != nil {
					return err
				}
				results = append(results, msg)
				return nil
			})
		})
	}, false)
	if err != nil {
		return nil, err
	}
	if reverse {
		for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
			results[i], results[j] = results[j], results[i]
		}
	}
	return results, nil
}

// SetFeedback stores feedback beside the rated message.
func (r *ConversationRepository) SetFeedback(ctx context.Context, fb *core.Feedback) error {
	if err := core.ValidateFeedback(fb); err != nil {
		return err
	}
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		_, err := tx.Get(makeMessageKey(fb.ConversationId, fb.Sequence))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		fb.CreatedAt = time.Now().UTC()
		return writeRecord(tx, makeFeedbackKey(fb.ConversationId, fb.Sequence), fb)
	})
}

// GetFeedback returns all feedback recorded for a conversation.
func (r *ConversationRepository) GetFeedback(ctx context.Context, conversationID core.ID) ([]*core.Feedback, error) {
	var results []*core.Feedback
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, makeConversationFeedbackPrefix(conversationID), false, func(item *badger.Item) error {
			return item.Value(func(val []byte) error {
				fb, err := storage.Unmarshal[core.Feedback](val)
				if err != nil {
					return err
				}
				results = append(results, fb)
				return nil
			})
		})
	}, false)
	return results, err
}
