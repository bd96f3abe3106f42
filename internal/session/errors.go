package session

import (
	"errors"
	"fmt"

	"github.com/1ureka/commlink/internal/config"
)

var (
	// ErrInvalidPort is returned by Open when no port is configured and the
	// platform has no default. No loop is started.
	ErrInvalidPort = config.ErrInvalidPort
	// ErrConfiguration covers rejected settings and malformed Write input.
	ErrConfiguration = config.ErrConfiguration
	// ErrEncoding means a Write element does not fit in one byte.
	ErrEncoding = fmt.Errorf("%w: value does not fit in a byte", ErrConfiguration)
	// ErrUnsupportedType means Write was given a type it cannot serialize.
	ErrUnsupportedType = fmt.Errorf("%w: unsupported message type", ErrConfiguration)
	// ErrSessionClosed is returned by Write once the session stopped running.
	ErrSessionClosed = errors.New("session closed")
)
