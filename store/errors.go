package store

import "errors"

// ErrClosed is returned by Persist after Close.
var ErrClosed = errors.New("store: closed")
