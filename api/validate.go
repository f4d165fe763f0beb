package api

import "github.com/share-dish/chat-backend/api/validator"

// Aliases so handlers can speak about validation without importing the
// subpackage everywhere.
type (
	Validator       = validator.Validator
	ValidationError = validator.ValidationError
)
