// Package query contains read operations following CQRS pattern.
// Queries never modify state, with one exception: reading a user profile
// creates it on first access.
package query

import (
	"github.com/subvoyager/subvoyager/internal/domain/expedition"
	"github.com/subvoyager/subvoyager/internal/domain/shared"
	"github.com/subvoyager/subvoyager/internal/domain/user"
)

// Deps are the repositories shared by the query handlers.
type Deps struct {
	Expeditions expedition.Repository
	Users       user.Repository
}

// invalid builds a validation error for malformed query parameters.
func invalid(message string) error {
	return shared.NewDomainError("query", "Validate", shared.ErrValidation, message)
}
