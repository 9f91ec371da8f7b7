package session

import "errors"

var (
	errNotFound  = errors.New("session: entry not found")
	errMalformed = errors.New("session: entry is malformed or tampered")
)
