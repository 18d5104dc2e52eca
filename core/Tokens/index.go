package Tokens

// TokenInterfaces is the common root implemented by every token standard in
// the registry so callers can type-switch on Meta() without importing each
// standard's concrete type.
type TokenInterfaces interface {
	Meta() any
}
