package service

import (
	"context"
	"fmt"

	"trustmarket/internal/model"
	"trustmarket/internal/repository"

	"gorm.io/gorm"
)

type CreateUserRequest struct {
	Username      string `json:"username" binding:"required"`
	WalletAddress string `json:"wallet_address"`
}

type UpdateProfileRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
}

type UserService struct {
	db       *gorm.DB
	userRepo *repository.UserRepository
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{
		db:       db,
		userRepo: repository.NewUserRepository(db),
	}
}

func (s *UserService) CreateUser(ctx context.Context, req *CreateUserRequest) (*model.User, error) {
	if req.Username == "" {
		return nil, fmt.Errorf("%w: 用户名不能为空", ErrValidationFailed)
	}

	user := &model.User{
		Username:      req.Username,
		WalletAddress: req.WalletAddress,
		Status:        model.UserStatusActive,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.userRepo.GetByID(ctx, userID)
}

// RecordLogin 登录计数，行为分析器以此识别休眠账号
func (s *UserService) RecordLogin(ctx context.Context, userID int64) error {
	return s.userRepo.IncrementLoginCount(ctx, userID)
}

func (s *UserService) UpdateProfile(ctx context.Context, userID int64, req *UpdateProfileRequest) (*model.User, error) {
	if err := s.userRepo.UpdateProfile(ctx, userID, req.WalletAddress); err != nil {
		return nil, err
	}
	return s.userRepo.GetByID(ctx, userID)
}
