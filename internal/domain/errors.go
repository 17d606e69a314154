package domain

import "errors"

// ErrCanceled is returned by a discovery run that was cancelled before it
// finished.
var ErrCanceled = errors.New("discovery run canceled")
