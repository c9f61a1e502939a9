package userservice

import (
	"regexp"

	"github.com/aleksmelnikov/bloghub/internal/common"
)

var EmailRX = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

const (
	minPasswordLength = 6
	maxNameLength     = 20
)

func validateRegister(name, email, password string) error {
	switch {
	case name == "":
		return common.NewValidationError("Name is required")
	case password == "":
		return common.NewValidationError("Password is required")
	case email == "":
		return common.NewValidationError("Email is required")
	case len(password) < minPasswordLength:
		return common.NewValidationError("Password must not be less than 6 characters")
	case len(name) > maxNameLength:
		return common.NewValidationError("Name length should not exceed 20 characters")
	}

	if !EmailRX.MatchString(email) {
		return common.NewValidationError("Invalid email")
	}

	return nil
}

func validateLogin(email, password string) error {
	switch {
	case password == "":
		return common.NewValidationError("Password is required")
	case email == "":
		return common.NewValidationError("Email is required")
	case len(password) < minPasswordLength:
		return common.NewValidationError("Password must not be less than 6 characters")
	}

	return nil
}

func validateChangePassword(oldPassword, newPassword string) error {
	switch {
	case oldPassword == "" || newPassword == "":
		return common.NewValidationError("Old and new passwords are required")
	case oldPassword == newPassword:
		return common.NewValidationError("New password must be different from old password")
	case len(newPassword) < minPasswordLength:
		return common.NewValidationError("Password must be at least 6 characters long")
	}

	return nil
}
