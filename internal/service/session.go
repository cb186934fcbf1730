package service

import "strings"

// Session identifies the signed-in user an engine instance works on behalf
// of. It is threaded explicitly into every component constructor instead of
// living in ambient global state.
type Session struct {
	UserID      string
	DisplayName string
}

// Valid reports whether the session carries a usable user identifier.
func (s Session) Valid() bool {
	return strings.TrimSpace(s.UserID) != ""
}
