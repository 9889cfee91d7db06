package eventlog

import "errors"

var ErrClosed = errors.New("eventlog: database is closed")
