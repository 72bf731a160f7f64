package interfaces

import (
	"context"

	"github.com/seezam/finbot/internal/models"
)

// SessionStore keeps the pending-input state of each user.
type SessionStore interface {
	// GetSession returns storage.ErrSessionNotFound when the user has no session.
	GetSession(ctx context.Context, userID int64) (models.Session, error)
	SaveSession(ctx context.Context, session models.Session) error
	// DeleteSession is a no-op for users without a session.
	DeleteSession(ctx context.Context, userID int64) error
}
