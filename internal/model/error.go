package model

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUsernameTaken is returned on signup for an already registered username.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrInvalidUsername is returned on signup with a username outside the
	// allowed format. User ids share the format: message ids embed them
	// dash-separated, so a dash in an id would corrupt every ack for it.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidCredentials is returned when login verification fails.
	ErrInvalidCredentials = errors.New("username or password incorrect")
	// ErrInvalidSession is returned when a reconnecting client cannot be
	// matched to a known account.
	ErrInvalidSession = errors.New("invalid session")
	// ErrDuplicateRequest is returned when a pending or accepted friend
	// relation already exists for the pair.
	ErrDuplicateRequest = errors.New("friend request already exists")
)
