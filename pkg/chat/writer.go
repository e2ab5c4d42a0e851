package chat

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/otherjamesbrown/penf-chat/pkg/db"
	pferrors "github.com/otherjamesbrown/penf-chat/pkg/errors"
	"github.com/otherjamesbrown/penf-chat/pkg/logging"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions"
)

// UnitOfWork runs fn with a message store and mention store that commit or
// roll back together.
type UnitOfWork interface {
	InTx(ctx context.Context, fn func(msgs MessageStore, store mentions.Store) error) error
}

// PostgresUnitOfWork binds both stores to one pgx transaction.
type PostgresUnitOfWork struct {
	db db.TxBeginner
}

// NewPostgresUnitOfWork creates a unit of work over pool.
func NewPostgresUnitOfWork(pool db.TxBeginner) *PostgresUnitOfWork {
	return &PostgresUnitOfWork{db: pool}
}

// InTx implements UnitOfWork.
func (u *PostgresUnitOfWork) InTx(ctx context.Context, fn func(msgs MessageStore, store mentions.Store) error) error {
	return db.WithTx(ctx, u.db, func(tx pgx.Tx) error {
		return fn(NewPostgresMessageStore(tx), mentions.NewPostgresRepository(tx))
	})
}

// Writer is the message write path. Content is canonicalized and mention
// records are created in the same transaction as the message row, so a
// message is never stored with canonical mentions that have no records.
type Writer struct {
	uow      UnitOfWork
	ingestor *mentions.Ingestor
	logger   logging.Logger
}

// NewWriter creates a Writer.
func NewWriter(uow UnitOfWork, ingestor *mentions.Ingestor, logger logging.Logger) *Writer {
	return &Writer{
		uow:      uow,
		ingestor: ingestor,
		logger:   logging.Component(logger, "message_writer"),
	}
}

// Posted is the result of a write.
type Posted struct {
	Message  *Message
	Mentions []mentions.Mention
	Failures []mentions.ResolutionFailure
}

// Post creates msg with canonical content and one mention per resolved clone.
func (w *Writer) Post(ctx context.Context, msg NewMessage) (*Posted, error) {
	if msg.WorkspaceID == "" || msg.ChannelID == "" || msg.AuthorID == "" {
		return nil, fmt.Errorf("workspace, channel and author are required: %w", pferrors.ErrValidation)
	}

	p, err := w.ingestor.Prepare(ctx, msg.WorkspaceID, msg.Content)
	if err != nil {
		return nil, fmt.Errorf("preparing message: %w", err)
	}
	msg.Content = p.Content

	out := &Posted{Failures: p.Failures}
	err = w.uow.InTx(ctx, func(msgs MessageStore, store mentions.Store) error {
		created, err := msgs.Create(ctx, msg)
		if err != nil {
			return err
		}
		out.Message = created

		out.Mentions, err = w.ingestor.Commit(ctx, store, created.ID, p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("posting message: %w", err)
	}

	w.ingestor.Announce(ctx, out.Mentions)
	return out, nil
}

// Edit replaces a message body and resyncs its mentions from scratch.
func (w *Writer) Edit(ctx context.Context, messageID, content string) (*Posted, error) {
	var out *Posted
	err := w.uow.InTx(ctx, func(msgs MessageStore, store mentions.Store) error {
		existing, err := msgs.GetByID(ctx, messageID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("message %s: %w", messageID, pferrors.ErrNotFound)
		}

		p, created, err := w.ingestor.Resync(ctx, store, existing.WorkspaceID, messageID, content)
		if err != nil {
			return err
		}

		updated, err := msgs.UpdateContent(ctx, messageID, p.Content)
		if err != nil {
			return err
		}
		out = &Posted{Message: updated, Mentions: created, Failures: p.Failures}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("editing message: %w", err)
	}

	w.ingestor.Announce(ctx, out.Mentions)
	return out, nil
}

// Resync re-resolves a message's current content. Operators use it to
// recreate mentions that ended in error.
func (w *Writer) Resync(ctx context.Context, messageID string) (*Posted, error) {
	var content string
	err := w.uow.InTx(ctx, func(msgs MessageStore, _ mentions.Store) error {
		existing, err := msgs.GetByID(ctx, messageID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("message %s: %w", messageID, pferrors.ErrNotFound)
		}
		content = existing.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading message: %w", err)
	}
	return w.Edit(ctx, messageID, content)
}

// Delete removes a message and retires its mentions.
func (w *Writer) Delete(ctx context.Context, messageID string) error {
	err := w.uow.InTx(ctx, func(msgs MessageStore, store mentions.Store) error {
		if _, err := w.ingestor.Retire(ctx, store, messageID); err != nil {
			return err
		}
		return msgs.Delete(ctx, messageID)
	})
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	w.logger.WithContext(ctx).Info("Message deleted", logging.F("message_id", messageID))
	return nil
}
