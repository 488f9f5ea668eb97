package state

import "errors"

// ErrMissingEntity marks a handler precondition failure: an entity that
// must already exist was not found.
var ErrMissingEntity = errors.New("missing required entity")

// ErrAlreadyExists marks a write-once entity that was written before.
var ErrAlreadyExists = errors.New("entity already exists")
