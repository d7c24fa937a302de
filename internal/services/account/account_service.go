// Package account registers members, authenticates them and lets admins
// change account status.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vidnet/backend/internal/apperrors"
	"github.com/vidnet/backend/internal/database"
	"github.com/vidnet/backend/internal/models"
	"github.com/vidnet/backend/internal/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,50}$`)

var errIdentityTaken = apperrors.Conflict("email or username already in use")

// AccountService handles registration, login and account status
type AccountService struct {
	db          *gorm.DB
	tokens      *utils.TokenIssuer
	policy      utils.PasswordPolicy
	hashCost    int
	frontendURL string
	log         logrus.FieldLogger
}

// NewAccountService creates a new account service
func NewAccountService(db *gorm.DB, tokens *utils.TokenIssuer, frontendURL string, log logrus.FieldLogger) *AccountService {
	return &AccountService{
		db:          db,
		tokens:      tokens,
		policy:      utils.DefaultPasswordPolicy(),
		hashCost:    utils.PasswordHashCost,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		log:         log,
	}
}

// SetHashCost overrides the bcrypt cost
func (s *AccountService) SetHashCost(cost int) {
	s.hashCost = cost
}

// RegisterInput holds the fields of a new account
type RegisterInput struct {
	Email       string
	Username    string
	FirstName   string
	LastName    string
	Password    string
	SponsorCode string
}

// AuthResult is an authenticated user with a fresh access token
type AuthResult struct {
	User  *models.User
	Token utils.TokenPair
}

func (s *AccountService) validate(in *RegisterInput) error {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.TrimSpace(in.Username)
	in.SponsorCode = strings.TrimSpace(in.SponsorCode)

	var invalid []*apperrors.Error
	if _, err := mail.ParseAddress(in.Email); err != nil || in.Email == "" {
		invalid = append(invalid, apperrors.Validation("email is invalid"))
	}
	if !usernamePattern.MatchString(in.Username) {
		invalid = append(invalid, apperrors.Validation("username must be 3 to 50 letters, digits or underscores"))
	}
	if err := s.policy.ValidatePassword(in.Password, in.Username); err != nil {
		invalid = append(invalid, apperrors.Validation("%s", err.Error()))
	}
	if len(invalid) > 0 {
		return apperrors.Join(invalid...)
	}
	return nil
}

// Register creates an account, optionally under the sponsor named by
// SponsorCode (a username or a user id). The sponsor link never changes
// afterwards.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	if err := s.validate(&in); err != nil {
		return nil, err
	}

	hash, err := utils.HashPasswordWithCost(in.Password, s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	user := models.User{
		Email:        in.Email,
		Username:     in.Username,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		PasswordHash: hash,
		Status:       models.UserStatusActive,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		if err := tx.Model(&models.User{}).
			Where("email = ? OR username = ?", in.Email, in.Username).
			Count(&taken).Error; err != nil {
			return fmt.Errorf("error checking existing users: %w", err)
		}
		if taken > 0 {
			return errIdentityTaken
		}

		if in.SponsorCode != "" {
			sponsor, err := findSponsor(tx, in.SponsorCode)
			if err != nil {
				return err
			}
			user.SponsorID = &sponsor.ID
		}

		if err := tx.Create(&user).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return errIdentityTaken
			}
			return fmt.Errorf("error creating user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.GenerateToken(user.ID, user.Username, user.IsAdmin)
	if err != nil {
		return nil, fmt.Errorf("error generating token: %w", err)
	}

	s.log.WithFields(logrus.Fields{"user_id": user.ID, "sponsor_id": user.SponsorID}).Info("User registered")
	return &AuthResult{User: &user, Token: token}, nil
}

func findSponsor(tx *gorm.DB, code string) (*models.User, error) {
	var sponsor models.User
	query := tx.Where("username = ?", code)
	if id, err := uuid.Parse(code); err == nil {
		query = tx.Where("id = ?", id)
	}
	if err := query.First(&sponsor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Validation("referral code %q does not match any member", code)
		}
		return nil, fmt.Errorf("error loading sponsor: %w", err)
	}
	return &sponsor, nil
}

// Login checks the credentials and issues a token. Suspended and banned
// accounts cannot log in.
func (s *AccountService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}

	if !utils.CheckPasswordHash(password, user.PasswordHash) {
		return nil, apperrors.ErrInvalidCredentials
	}
	if user.Status != models.UserStatusActive {
		return nil, apperrors.Forbidden("account is %s", user.Status)
	}

	token, err := s.tokens.GenerateToken(user.ID, user.Username, user.IsAdmin)
	if err != nil {
		return nil, fmt.Errorf("error generating token: %w", err)
	}

	s.log.WithField("user_id", user.ID).Info("User logged in")
	return &AuthResult{User: &user, Token: token}, nil
}

// Profile returns the user
func (s *AccountService) Profile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("user not found")
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	return &user, nil
}

// RefreshToken issues a new token for a user who is still allowed to log in
func (s *AccountService) RefreshToken(ctx context.Context, userID uuid.UUID) (*AuthResult, error) {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Status != models.UserStatusActive {
		return nil, apperrors.Forbidden("account is %s", user.Status)
	}

	token, err := s.tokens.GenerateToken(user.ID, user.Username, user.IsAdmin)
	if err != nil {
		return nil, fmt.Errorf("error generating token: %w", err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

const (
	maxNameLength   = 100
	maxAvatarLength = 500
)

// UpdateProfileInput holds the profile fields to change. Nil fields are left
// as they are; an empty Avatar clears it.
type UpdateProfileInput struct {
	FirstName *string
	LastName  *string
	Avatar    *string
}

// UpdateProfile changes the display fields of a user
func (s *AccountService) UpdateProfile(ctx context.Context, userID uuid.UUID, in UpdateProfileInput) (*models.User, error) {
	updates := map[string]interface{}{}
	var invalid []*apperrors.Error
	names := []struct {
		column string
		value  *string
	}{{"first_name", in.FirstName}, {"last_name", in.LastName}}
	for _, n := range names {
		if n.value == nil {
			continue
		}
		v := strings.TrimSpace(*n.value)
		if v == "" || len(v) > maxNameLength {
			invalid = append(invalid, apperrors.Validation("%s must be 1 to %d characters", n.column, maxNameLength))
			continue
		}
		updates[n.column] = v
	}
	if in.Avatar != nil {
		v := strings.TrimSpace(*in.Avatar)
		if len(v) > maxAvatarLength {
			invalid = append(invalid, apperrors.Validation("avatar must be at most %d characters", maxAvatarLength))
		}
		updates["avatar"] = v
	}
	if len(invalid) > 0 {
		return nil, apperrors.Join(invalid...)
	}

	user, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return user, nil
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("error updating profile: %w", err)
	}
	return s.Profile(ctx, userID)
}

// ChangePassword replaces the password after checking the current one
func (s *AccountService) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return err
	}
	if !utils.CheckPasswordHash(current, user.PasswordHash) {
		return apperrors.Validation("current password is incorrect")
	}
	if current == next {
		return apperrors.Validation("new password must differ from the current one")
	}
	if err := s.policy.ValidatePassword(next, user.Username); err != nil {
		return apperrors.Validation("%s", err.Error())
	}

	hash, err := utils.HashPasswordWithCost(next, s.hashCost)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(user).Update("password_hash", hash).Error; err != nil {
		return fmt.Errorf("error updating password: %w", err)
	}

	s.log.WithField("user_id", userID).Info("Password changed")
	return nil
}

// Referral is a member's referral code and the registration link built from it
type Referral struct {
	Code string `json:"referral_code"`
	Link string `json:"referral_link"`
}

// ReferralLink returns the code new members use to register under userID
func (s *AccountService) ReferralLink(ctx context.Context, userID uuid.UUID) (*Referral, error) {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Referral{
		Code: user.Username,
		Link: fmt.Sprintf("%s/register?ref=%s", s.frontendURL, user.Username),
	}, nil
}

var statusLogTypes = map[models.UserStatus]models.ModerationLogType{
	models.UserStatusActive:    models.LogUserActivated,
	models.UserStatusSuspended: models.LogUserSuspended,
	models.UserStatusBanned:    models.LogUserBanned,
}

// SetStatus changes a user's account status on behalf of an admin and
// records the change in the moderation log.
func (s *AccountService) SetStatus(ctx context.Context, adminID, userID uuid.UUID, status models.UserStatus, reason string) (*models.User, error) {
	if !status.Valid() {
		return nil, apperrors.Validation("unknown status %q", status)
	}
	if adminID == userID {
		return nil, apperrors.Validation("you cannot change your own status")
	}

	var user models.User
	var previous models.UserStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("user not found")
			}
			return fmt.Errorf("error loading user: %w", err)
		}
		previous = user.Status
		if previous == status {
			return nil
		}

		if err := tx.Model(&user).Update("status", status).Error; err != nil {
			return fmt.Errorf("error updating status: %w", err)
		}
		user.Status = status

		entry := models.ModerationLog{
			Type:        statusLogTypes[status],
			InitiatorID: &adminID,
			TargetID:    &userID,
			Details:     reason,
			Metadata: datatypes.JSONMap{
				"previous_status": string(previous),
				"new_status":      string(status),
			},
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("error writing moderation log: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if previous != status {
		s.log.WithFields(logrus.Fields{
			"user_id":  userID,
			"admin_id": adminID,
			"previous": previous,
			"status":   status,
		}).Warn("User status changed")
	}
	return &user, nil
}
