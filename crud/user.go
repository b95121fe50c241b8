package crud

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"dentibot/domain"
	"dentibot/errs"
)

// UserService manages Users. Accounts are password-less: they come into
// existence through OAuth federation or an explicit creation call, so the
// service's job is validation, merge-by-email and cascading erasure.
// It implements the domain.UserService interface.
type UserService struct {
	userValidator
}

// userValidator runs validations on incoming User data.
// On success, it passes the data on to userGorm.
// Otherwise, it returns the error of the validation that has failed.
type userValidator struct {
	emailRegex *regexp.Regexp
	userGorm
}

// userGorm runs CRUD operations on the database using incoming User data.
// It assumes that data has been validated.
type userGorm struct {
	db *gorm.DB
}

// NewUserService returns an instance of UserService.
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{
		userValidator{
			emailRegex: regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,16}$`),
			userGorm: userGorm{
				db: db,
			},
		},
	}
}

// Ensure the UserService struct properly implements the domain.UserService
// interface. If it does not, this expression won't compile.
var _ domain.UserService = &UserService{}

// Create runs validations needed for creating new User database records.
// A taken email address is a conflict, not a merge.
func (uv *userValidator) Create(ctx context.Context, user *domain.User) error {
	err := runUserValFns(user,
		uv.emailNormalize,
		uv.emailRequired,
		uv.emailFormat,
		uv.idSetIfUnset,
		uv.roleDefault)
	if err != nil {
		return err
	}
	if err := uv.userGorm.Create(ctx, user); err != nil {
		if isUniqueViolation(err) {
			return errs.Errorf(errs.ECONFLICT, "This email address is already taken.")
		}
		return err
	}
	return nil
}

// Upsert merges a user in by normalized email. On a match the mutable
// profile fields are updated, otherwise a record is created. Two racing
// first logins for the same brand-new email are resolved by the unique
// email index: the loser's create comes back as a constraint violation
// and is retried as an update.
func (uv *userValidator) Upsert(ctx context.Context, user *domain.User) error {
	err := runUserValFns(user,
		uv.emailNormalize,
		uv.emailRequired,
		uv.emailFormat,
		uv.roleDefault)
	if err != nil {
		return err
	}

	existing, err := uv.userGorm.ByEmail(ctx, user.Email)
	if err == nil {
		return uv.mergeProfile(ctx, existing, user)
	}
	if errs.ErrorCode(err) != errs.ENOTFOUND {
		return err
	}

	if err := runUserValFns(user, uv.idSetIfUnset); err != nil {
		return err
	}
	if err := uv.userGorm.Create(ctx, user); err != nil {
		if isUniqueViolation(err) {
			existing, ferr := uv.userGorm.ByEmail(ctx, user.Email)
			if ferr != nil {
				return ferr
			}
			return uv.mergeProfile(ctx, existing, user)
		}
		return err
	}
	return nil
}

// mergeProfile copies the mutable profile fields onto the existing record
// and writes it back, leaving user pointing at the merged result.
func (uv *userValidator) mergeProfile(ctx context.Context, existing, user *domain.User) error {
	if user.Name != "" {
		existing.Name = user.Name
	}
	if user.Picture != "" {
		existing.Picture = user.Picture
	}
	if err := uv.userGorm.Update(ctx, existing); err != nil {
		return err
	}
	*user = *existing
	return nil
}

// Update runs validations needed for updating a User record.
func (uv *userValidator) Update(ctx context.Context, user *domain.User) error {
	err := runUserValFns(user,
		uv.emailNormalize,
		uv.emailRequired,
		uv.emailFormat)
	if err != nil {
		return err
	}
	return uv.userGorm.Update(ctx, user)
}

// runUserValFns runs any number of functions of type userValFn on the
// passed in User object, stopping at the first error.
func runUserValFns(user *domain.User, fns ...userValFn) error {
	for _, fn := range fns {
		if err := fn(user); err != nil {
			return err
		}
	}
	return nil
}

// A userValFn is any function that takes in a pointer to a domain.User
// object and returns an error.
type userValFn func(user *domain.User) error

// emailNormalize converts the email to all lowercase and trims its
// whitespaces. The normalized form is the merge key for federation.
func (uv *userValidator) emailNormalize(user *domain.User) error {
	user.Email = strings.ToLower(user.Email)
	user.Email = strings.TrimSpace(user.Email)
	return nil
}

// emailRequired makes sure that the email is not the empty string.
func (uv *userValidator) emailRequired(user *domain.User) error {
	if user.Email == "" {
		return errs.Errorf(errs.EINVALID, "An email address is required.")
	}
	return nil
}

// emailFormat makes sure that a provided email address matches a
// predefined regex pattern.
func (uv *userValidator) emailFormat(user *domain.User) error {
	if user.Email == "" {
		return nil
	}
	if !uv.emailRegex.MatchString(user.Email) {
		return errs.Errorf(errs.EINVALID, "The email address is invalid.")
	}
	return nil
}

// idSetIfUnset assigns a fresh uuid if the user has no id yet.
func (uv *userValidator) idSetIfUnset(user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	return nil
}

// roleDefault makes every new user a regular USER.
func (uv *userValidator) roleDefault(user *domain.User) error {
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	return nil
}

// ByID retrieves a User database record by ID.
func (ug *userGorm) ByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := ug.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Errorf(errs.ENOTFOUND, "The user does not exist.")
		}
		return nil, err
	}
	return &user, nil
}

// ByEmail retrieves a User database record by email address.
func (ug *userGorm) ByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	err := ug.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Errorf(errs.ENOTFOUND, "The user does not exist.")
		}
		return nil, err
	}
	return &user, nil
}

// Create stores the data from the User object in a new database record.
func (ug *userGorm) Create(ctx context.Context, user *domain.User) error {
	return ug.db.WithContext(ctx).Create(user).Error
}

// Update saves changes to an existing user record in the database.
func (ug *userGorm) Update(ctx context.Context, user *domain.User) error {
	return ug.db.WithContext(ctx).Save(user).Error
}

// Delete removes the user and all owned records in a single transaction.
// OAuth links and refresh credentials go first, then the user row itself.
func (ug *userGorm) Delete(ctx context.Context, id string) error {
	return ug.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user domain.User
		if err := tx.First(&user, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.Errorf(errs.ENOTFOUND, "The user does not exist.")
			}
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&domain.OAuthAccount{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&domain.RefreshCredential{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
}

// isUniqueViolation reports whether an error came from a unique index.
// Postgres reports these as SQLSTATE 23505; gorm also surfaces its own
// sentinel on some drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "23505") ||
		strings.Contains(err.Error(), "duplicate key")
}
