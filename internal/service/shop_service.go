package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"marketplace/internal/apperror"
	"marketplace/internal/model"
	"marketplace/internal/repository/postgres"
	"marketplace/internal/util"
)

// CreateShopRequest carries the seller-provided shop fields.
type CreateShopRequest struct {
	Name         string `json:"name"`
	Bio          string `json:"bio"`
	Address      string `json:"address"`
	OpeningHours string `json:"opening_hours"`
	Website      string `json:"website"`
	Category     string `json:"category"`
}

// ShopService manages seller shops. A seller owns at most one shop.
type ShopService struct {
	shops      postgres.ShopRepository
	siteConfig *SiteConfigService
	logger     *zap.Logger
}

func NewShopService(shops postgres.ShopRepository, siteConfig *SiteConfigService, logger *zap.Logger) *ShopService {
	return &ShopService{shops: shops, siteConfig: siteConfig, logger: logger}
}

func (s *ShopService) Create(ctx context.Context, sellerID string, req *CreateShopRequest) (*model.Shop, error) {
	if req.Name == "" || req.Address == "" || req.Category == "" {
		return nil, apperror.Validation("Name, address and category are required.")
	}

	ok, err := s.siteConfig.ValidCategory(ctx, req.Category)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.Validation("Unknown category: %s", req.Category)
	}

	if _, err := s.shops.FindBySellerID(ctx, sellerID); err == nil {
		return nil, apperror.Conflict("Seller already has a shop.")
	} else if !errors.Is(err, postgres.ErrShopNotFound) {
		return nil, apperror.Internal(err, "could not check existing shop")
	}

	shop := &model.Shop{
		SellerID:     sellerID,
		Name:         util.SanitizeInput(req.Name),
		Bio:          util.SanitizeInput(req.Bio),
		Address:      util.SanitizeInput(req.Address),
		OpeningHours: util.SanitizeInput(req.OpeningHours),
		Website:      util.SanitizeInput(req.Website),
		Category:     req.Category,
	}
	if err := s.shops.Create(ctx, shop); err != nil {
		return nil, apperror.Internal(err, "could not create shop")
	}
	return shop, nil
}

func (s *ShopService) GetBySeller(ctx context.Context, sellerID string) (*model.Shop, error) {
	shop, err := s.shops.FindBySellerID(ctx, sellerID)
	if err != nil {
		if errors.Is(err, postgres.ErrShopNotFound) {
			return nil, apperror.NotFound("Shop not found.")
		}
		return nil, apperror.Internal(err, "could not load shop")
	}
	return shop, nil
}

func (s *ShopService) Get(ctx context.Context, id string) (*model.Shop, error) {
	shop, err := s.shops.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, postgres.ErrShopNotFound) {
			return nil, apperror.NotFound("Shop not found.")
		}
		return nil, apperror.Internal(err, "could not load shop")
	}
	return shop, nil
}
