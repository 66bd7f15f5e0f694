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

const (
	defaultProductPageSize = 20
	maxProductPageSize     = 100
)

// CreateProductRequest carries the seller-provided product fields. Prices are
// integer cents.
type CreateProductRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	SubCategory string `json:"sub_category"`
	Price       int64  `json:"price_cents"`
	SalePrice   int64  `json:"sale_price_cents"`
	Stock       int    `json:"stock"`
}

// CreateDiscountCodeRequest carries a new discount code definition.
type CreateDiscountCodeRequest struct {
	PublicName    string `json:"public_name"`
	Code          string `json:"code"`
	DiscountType  string `json:"discount_type"`
	DiscountValue int    `json:"discount_value"`
}

// ProductService manages a shop's product listings and the seller's discount
// codes. Mutations always verify shop ownership through the seller ID.
type ProductService struct {
	products   postgres.ProductRepository
	shops      postgres.ShopRepository
	siteConfig *SiteConfigService
	logger     *zap.Logger
}

func NewProductService(products postgres.ProductRepository, shops postgres.ShopRepository, siteConfig *SiteConfigService, logger *zap.Logger) *ProductService {
	return &ProductService{products: products, shops: shops, siteConfig: siteConfig, logger: logger}
}

func (s *ProductService) sellerShop(ctx context.Context, sellerID string) (*model.Shop, error) {
	shop, err := s.shops.FindBySellerID(ctx, sellerID)
	if err != nil {
		if errors.Is(err, postgres.ErrShopNotFound) {
			return nil, apperror.NotFound("Create a shop before managing products.")
		}
		return nil, apperror.Internal(err, "could not load shop")
	}
	return shop, nil
}

func (s *ProductService) Create(ctx context.Context, sellerID string, req *CreateProductRequest) (*model.Product, error) {
	if req.Title == "" || req.Category == "" {
		return nil, apperror.Validation("Title and category are required.")
	}
	if req.Price <= 0 {
		return nil, apperror.Validation("Price must be positive.")
	}
	if req.SalePrice < 0 || req.SalePrice > req.Price {
		return nil, apperror.Validation("Sale price must be between zero and the regular price.")
	}
	if req.Stock < 0 {
		return nil, apperror.Validation("Stock cannot be negative.")
	}

	ok, err := s.siteConfig.ValidCategory(ctx, req.Category)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.Validation("Unknown category: %s", req.Category)
	}

	shop, err := s.sellerShop(ctx, sellerID)
	if err != nil {
		return nil, err
	}

	product := &model.Product{
		ShopID:      shop.ID,
		Title:       util.SanitizeInput(req.Title),
		Description: util.SanitizeInput(req.Description),
		Category:    req.Category,
		SubCategory: req.SubCategory,
		Price:       req.Price,
		SalePrice:   req.SalePrice,
		Stock:       req.Stock,
	}
	if err := s.products.Create(ctx, product); err != nil {
		return nil, apperror.Internal(err, "could not create product")
	}

	s.logger.Info("Product created",
		util.String("product_id", product.ID),
		util.String("shop_id", shop.ID),
	)
	return product, nil
}

func (s *ProductService) Get(ctx context.Context, id string) (*model.Product, error) {
	product, err := s.products.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, postgres.ErrProductNotFound) {
			return nil, apperror.NotFound("Product not found.")
		}
		return nil, apperror.Internal(err, "could not load product")
	}
	return product, nil
}

// List returns active products, newest first. Page size is clamped.
func (s *ProductService) List(ctx context.Context, limit, offset int) ([]*model.Product, error) {
	if limit <= 0 {
		limit = defaultProductPageSize
	}
	if limit > maxProductPageSize {
		limit = maxProductPageSize
	}
	if offset < 0 {
		offset = 0
	}

	products, err := s.products.List(ctx, limit, offset)
	if err != nil {
		return nil, apperror.Internal(err, "could not list products")
	}
	return products, nil
}

func (s *ProductService) ListBySeller(ctx context.Context, sellerID string) ([]*model.Product, error) {
	shop, err := s.sellerShop(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	products, err := s.products.ListByShop(ctx, shop.ID)
	if err != nil {
		return nil, apperror.Internal(err, "could not list products")
	}
	return products, nil
}

// Delete soft-deletes a product owned by the seller's shop.
func (s *ProductService) Delete(ctx context.Context, sellerID, productID string) error {
	shop, err := s.sellerShop(ctx, sellerID)
	if err != nil {
		return err
	}
	if err := s.products.Delete(ctx, shop.ID, productID); err != nil {
		if errors.Is(err, postgres.ErrProductNotFound) {
			return apperror.NotFound("Product not found.")
		}
		return apperror.Internal(err, "could not delete product")
	}
	return nil
}

func (s *ProductService) CreateDiscountCode(ctx context.Context, sellerID string, req *CreateDiscountCodeRequest) (*model.DiscountCode, error) {
	if req.PublicName == "" || req.Code == "" {
		return nil, apperror.Validation("Public name and code are required.")
	}
	if req.DiscountType != "percentage" && req.DiscountType != "flat" {
		return nil, apperror.Validation("Discount type must be percentage or flat.")
	}
	if req.DiscountValue <= 0 {
		return nil, apperror.Validation("Discount value must be positive.")
	}
	if req.DiscountType == "percentage" && req.DiscountValue > 100 {
		return nil, apperror.Validation("Percentage discount cannot exceed 100.")
	}

	existing, err := s.products.ListDiscountCodes(ctx, sellerID)
	if err != nil {
		return nil, apperror.Internal(err, "could not check discount codes")
	}
	for _, c := range existing {
		if c.Code == req.Code {
			return nil, apperror.Conflict("A discount code with this code already exists.")
		}
	}

	code := &model.DiscountCode{
		SellerID:      sellerID,
		PublicName:    util.SanitizeInput(req.PublicName),
		Code:          req.Code,
		DiscountType:  req.DiscountType,
		DiscountValue: req.DiscountValue,
	}
	if err := s.products.CreateDiscountCode(ctx, code); err != nil {
		return nil, apperror.Internal(err, "could not create discount code")
	}
	return code, nil
}

func (s *ProductService) ListDiscountCodes(ctx context.Context, sellerID string) ([]*model.DiscountCode, error) {
	codes, err := s.products.ListDiscountCodes(ctx, sellerID)
	if err != nil {
		return nil, apperror.Internal(err, "could not list discount codes")
	}
	return codes, nil
}

func (s *ProductService) DeleteDiscountCode(ctx context.Context, sellerID, codeID string) error {
	if err := s.products.DeleteDiscountCode(ctx, sellerID, codeID); err != nil {
		if errors.Is(err, postgres.ErrDiscountCodeNotFound) {
			return apperror.NotFound("Discount code not found.")
		}
		return apperror.Internal(err, "could not delete discount code")
	}
	return nil
}
