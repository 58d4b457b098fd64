package base

import "errors"

var (
	ErrNothingToRead        = errors.New("nothing to read")
	ErrNotOpened            = errors.New("connection is not open")
	ErrCommunicationTimeout = errors.New("communication timeout")
)
