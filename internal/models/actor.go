package models

// Actor is the authenticated caller of an operator action. Role is what the caller
// claimed; components re-read the stored user before trusting it.
type Actor struct {
	ID    string
	Email string
	Role  Role
}
