package service

import (
	"errors"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/cartline/qnbpay-bridge/internal/models"
	"github.com/cartline/qnbpay-bridge/internal/repository"
	"github.com/cartline/qnbpay-bridge/internal/utils"
)

// AdminAuthService authenticates operators for the audit and debug-log
// endpoints.
type AdminAuthService struct {
	adminRepo *repository.AdminUserRepository
	jwtSecret []byte
}

func NewAdminAuthService(adminRepo *repository.AdminUserRepository, jwtSecret string) *AdminAuthService {
	return &AdminAuthService{adminRepo: adminRepo, jwtSecret: []byte(jwtSecret)}
}

func (s *AdminAuthService) Login(email, password string) (string, error) {
	user, err := s.adminRepo.GetByEmail(email)
	if err != nil {
		log.Warn().Err(err).Str("email", email).Msg("login for unknown account")
		return "", errors.New("invalid credentials")
	}

	if !user.IsActive {
		log.Warn().Str("email", email).Msg("login for inactive account")
		return "", errors.New("account is inactive")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		log.Warn().Str("email", email).Msg("password verification failed")
		return "", errors.New("invalid credentials")
	}

	token, err := utils.GenerateJWT(s.jwtSecret, user.ID, user.Email)
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *AdminAuthService) CreateAdmin(email, password, name string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	user := &models.AdminUser{
		Email:        email,
		PasswordHash: string(hashedPassword),
		Name:         name,
		IsActive:     true,
	}
	return s.adminRepo.Create(user)
}
