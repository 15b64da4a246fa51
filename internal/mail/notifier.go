package mail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/buildledger/buildledger/internal/documents"
	"github.com/buildledger/buildledger/internal/profile"
)

// DocumentNotifier implements documents.Notifier.
type DocumentNotifier struct {
	mailer   Mailer
	composer Composer
	profiles profile.Reader
	logger   *slog.Logger
}

var _ documents.Notifier = (*DocumentNotifier)(nil)

// NewDocumentNotifier constructs the notifier. profiles may be nil.
func NewDocumentNotifier(mailer Mailer, composer Composer, profiles profile.Reader, logger *slog.Logger) *DocumentNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentNotifier{mailer: mailer, composer: composer, profiles: profiles, logger: logger}
}

// SendDocument emails the rendered document to the delivery recipient.
func (n *DocumentNotifier) SendDocument(ctx context.Context, d documents.Delivery) error {
	business, err := profile.Lookup(ctx, n.profiles, d.Document.OwnerID)
	if err != nil {
		return fmt.Errorf("mail: load business profile: %w", err)
	}
	msg, err := n.composer.DocumentMessage(d.Document, business, d.Recipient, d.PDF)
	if err != nil {
		return err
	}
	id, err := n.mailer.Send(ctx, msg)
	if err != nil {
		return err
	}
	n.logger.Info("document email accepted",
		slog.String("document_id", d.Document.ID.String()),
		slog.String("message_id", id),
	)
	return nil
}
