package tenant

import (
	"fmt"
	"net/mail"
	"time"

	"github.com/meridian-crm/meridian/internal/platform/apperr"
)

var (
	ErrUserNotFound      = fmt.Errorf("user %w", apperr.ErrNotFound)
	ErrEmailInvalid      = fmt.Errorf("%w: invalid email address", apperr.ErrValidation)
	ErrEmailDuplicate    = fmt.Errorf("%w: email already exists in tenant", apperr.ErrConflict)
	ErrRoleNotAssignable = fmt.Errorf("%w: super_admin cannot be assigned to tenant users", apperr.ErrForbidden)
)

// User is a member of one tenant. Role names a system role key or one of
// the tenant's custom roles.
type User struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// ValidateEmail checks that an email address is syntactically valid.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrEmailInvalid)
	}
	_, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrEmailInvalid, err)
	}
	return nil
}
