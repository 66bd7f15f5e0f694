package model

import (
	"encoding/json"
	"time"
)

// Role distinguishes the two account collections. Email is unique per role,
// not globally: the same address may hold both a buyer and a seller account.
type Role string

const (
	RoleUser   Role = "user"
	RoleSeller Role = "seller"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleSeller
}

// Account is an identity in either role collection. PhoneNumber and Country
// are populated for sellers only.
type Account struct {
	ID           string     `db:"id" json:"id"`
	Name         string     `db:"name" json:"name"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	PhoneNumber  string     `db:"phone_number" json:"phone_number,omitempty"`
	Country      string     `db:"country" json:"country,omitempty"`
	StripeID     string     `db:"stripe_id" json:"-"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

type Shop struct {
	ID           string    `db:"id" json:"id"`
	SellerID     string    `db:"seller_id" json:"seller_id"`
	Name         string    `db:"name" json:"name"`
	Bio          string    `db:"bio" json:"bio"`
	Address      string    `db:"address" json:"address"`
	OpeningHours string    `db:"opening_hours" json:"opening_hours"`
	Website      string    `db:"website" json:"website,omitempty"`
	Category     string    `db:"category" json:"category"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

const (
	ProductStateActive  = 1
	ProductStateDeleted = 2
)

type Product struct {
	ID          string    `db:"id" json:"id"`
	ShopID      string    `db:"shop_id" json:"shop_id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Category    string    `db:"category" json:"category"`
	SubCategory string    `db:"sub_category" json:"sub_category,omitempty"`
	Price       int64     `db:"price_cents" json:"price_cents"`
	SalePrice   int64     `db:"sale_price_cents" json:"sale_price_cents,omitempty"`
	Stock       int       `db:"stock" json:"stock"`
	State       int       `db:"state" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

type DiscountCode struct {
	ID            string    `db:"id" json:"id"`
	SellerID      string    `db:"seller_id" json:"seller_id"`
	PublicName    string    `db:"public_name" json:"public_name"`
	Code          string    `db:"code" json:"code"`
	DiscountType  string    `db:"discount_type" json:"discount_type"`
	DiscountValue int       `db:"discount_value" json:"discount_value"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// SiteConfig holds the site-wide category tree. The raw fields mirror the
// JSON columns; Categories and SubCategories are their decoded forms.
type SiteConfig struct {
	ID            string              `db:"id" json:"id"`
	Categories    []string            `db:"-" json:"categories"`
	SubCategories map[string][]string `db:"-" json:"sub_categories"`
	CategoriesRaw json.RawMessage     `db:"categories" json:"-"`
	SubCatsRaw    json.RawMessage     `db:"sub_categories" json:"-"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
}

// SecurityEvent is the audit record published on abuse escalations and
// authentication failures.
type SecurityEvent struct {
	EventType string    `json:"event_type"`
	Email     string    `json:"email"`
	Role      string    `json:"role,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

const (
	EventOTPSpamLock    = "otp_spam_lock"
	EventOTPAccountLock = "otp_account_lock"
	EventLoginFailed    = "login_failed"
	EventPasswordReset  = "password_reset"
)
