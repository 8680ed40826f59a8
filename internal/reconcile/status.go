// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"context"
	"fmt"

	"github.com/planweave/planweave/internal/model"
)

// TicketUpdater persists ticket field changes.
type TicketUpdater interface {
	UpdateTicket(ctx context.Context, ticket model.Ticket) error
}

// UpdateStatus moves a ticket to a new status optimistically: the
// in-memory ticket changes first so the UI reflects the move at once,
// then the change is persisted. If persistence fails the snapshot is
// rolled back and the error returned, leaving memory and backend
// consistent.
func UpdateStatus(ctx context.Context, updater TicketUpdater, ticket *model.Ticket, status model.Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	if !ticket.Persisted() {
		return fmt.Errorf("cannot update status of an unpersisted ticket")
	}
	if ticket.Status == status {
		return nil
	}

	prev := ticket.Status
	ticket.Status = status
	if err := updater.UpdateTicket(ctx, *ticket); err != nil {
		ticket.Status = prev
		return err
	}
	return nil
}
