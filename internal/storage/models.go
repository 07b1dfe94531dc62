package storage

import (
	"errors"
	"time"

	"github.com/mbetel/invochat/internal/invoice"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ArchivedInvoice is one extracted invoice persisted for general-ledger
// export. The archive outlives the ephemeral chat session that produced it;
// it holds only the immutable extracted record, never session state.
type ArchivedInvoice struct {
	ID         string
	OwnerID    string
	SessionID  string
	ArchivedAt time.Time
	Record     invoice.Record
}
