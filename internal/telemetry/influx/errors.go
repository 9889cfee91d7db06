package influx

import "errors"

var (
	ErrNotConnected     = errors.New("influx: not connected")
	ErrConnectionFailed = errors.New("influx: connection failed")
	ErrDisabled         = errors.New("influx: disabled in configuration")
)
