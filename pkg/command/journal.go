// Package command implements the command journal named in spec §4.5:
// an ordered sequence of IndexCommand records executed under the
// session's transaction at commit time. Each command is opaque to the
// session — it is the sole concrete coupling to the SQL dialect.
package command

import (
	"context"

	"gorm.io/gorm"
)

// IndexCommand is one pending data-manipulation step. Implementations
// are the only code in this module that issues raw-ish SQL against a
// dynamically named table.
type IndexCommand interface {
	Execute(ctx context.Context, tx *gorm.DB) error
	String() string
}

// Journal is the ordered list of pending IndexCommands. Append order is
// preserved exactly through Drain — the observable command order at the
// database is deterministic for a given session (spec §5).
type Journal struct {
	commands []IndexCommand
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Append enqueues cmd at the tail of the journal.
func (j *Journal) Append(cmd IndexCommand) {
	j.commands = append(j.commands, cmd)
}

// Len reports the number of pending commands.
func (j *Journal) Len() int {
	return len(j.commands)
}

// Commands returns the pending commands in append order. Callers must
// not mutate the returned slice.
func (j *Journal) Commands() []IndexCommand {
	return j.commands
}

// Drain executes every pending command against tx, in insertion order,
// then clears the journal. Failure of any command aborts the drain: the
// error is returned immediately and remaining commands are left
// un-executed; the caller (session) propagates the error and the
// transaction is expected to be rolled back by Dispose.
func (j *Journal) Drain(ctx context.Context, tx *gorm.DB) error {
	for _, cmd := range j.commands {
		if err := cmd.Execute(ctx, tx); err != nil {
			return err
		}
	}
	j.commands = nil
	return nil
}
