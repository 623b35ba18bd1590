package repository

import (
	"errors"
	"fmt"

	"github.com/tallerflow/ticket-service/internal/domain"
	"github.com/tallerflow/ticket-service/internal/store"
)

// TranslateError maps store failures onto domain errors. Conflicts that
// survived every retry become domain.ErrTransactionConflict; the original
// error stays in the chain.
func TranslateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrTransactionConflict):
		return err
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %w", domain.ErrTransactionConflict, err)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", domain.ErrTicketNotFound, err)
	default:
		return err
	}
}
