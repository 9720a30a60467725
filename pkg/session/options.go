package session

import (
	"database/sql"

	"github.com/sirupsen/logrus"
)

// Options configures a Session at construction time, mirroring the
// teacher's TransactionOptions struct in
// internal/shared/unit_of_work/interface.go.
type Options struct {
	// IsolationLevel is read once, when the transaction is opened.
	// SetIsolationLevel after that point returns an InvalidOperationError
	// and leaves the level unchanged.
	IsolationLevel sql.IsolationLevel

	// Logger receives the session's structured log events; currently
	// only the transaction-open event, at debug level. Defaults to
	// logrus.StandardLogger() when nil.
	Logger *logrus.Logger
}

func (o Options) logger() *logrus.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return logrus.StandardLogger()
}
