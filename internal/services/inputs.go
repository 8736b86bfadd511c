package services

import "strings"

// CreateUserInput is the payload for sign-up and admin user creation.
type CreateUserInput struct {
	Username  string  `json:"username" validate:"required,max=64,excludes=@"`
	Email     string  `json:"email" validate:"required,email,max=254"`
	Password  string  `json:"password" validate:"required,password"`
	FirstName *string `json:"first_name" validate:"omitnil,max=100"`
	LastName  *string `json:"last_name" validate:"omitnil,max=100"`
	Bio       *string `json:"bio" validate:"omitnil,max=2000"`
}

func (in *CreateUserInput) normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
}

// UpdateUserInput is a partial profile update. Nil fields are left unchanged.
// Changing the password requires OldPassword.
type UpdateUserInput struct {
	Username    *string `json:"username" validate:"omitnil,min=1,max=64,excludes=@"`
	Email       *string `json:"email" validate:"omitnil,email,max=254"`
	Password    *string `json:"password" validate:"omitnil,password"`
	OldPassword *string `json:"old_password"`
	FirstName   *string `json:"first_name" validate:"omitnil,max=100"`
	LastName    *string `json:"last_name" validate:"omitnil,max=100"`
	Bio         *string `json:"bio" validate:"omitnil,max=2000"`
}

func (in *UpdateUserInput) normalize() {
	if in.Username != nil {
		v := strings.TrimSpace(*in.Username)
		in.Username = &v
	}
	if in.Email != nil {
		v := normalizeEmail(*in.Email)
		in.Email = &v
	}
}

// SignInInput identifies the account by username or email. Email and
// Username are accepted as aliases for Login.
type SignInInput struct {
	Login    string `json:"login"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Identifier returns the first non-empty login field, normalized.
func (in SignInInput) Identifier() string {
	for _, candidate := range []string{in.Login, in.Email, in.Username} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if strings.Contains(candidate, "@") {
			return normalizeEmail(candidate)
		}
		return candidate
	}
	return ""
}

// ListQuery holds pagination and search parameters. Page is 1-based and,
// when set, takes precedence over Offset.
type ListQuery struct {
	Search string
	Limit  int
	Offset int
	Page   int
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
