package domain

import "time"

type ProductStatus string

const (
	ProductStatusAvailable  ProductStatus = "available"
	ProductStatusLowInStock ProductStatus = "low_in_stock"
	ProductStatusOutOfStock ProductStatus = "out_of_stock"
)

type Product struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	PartNumber        string        `json:"part_number"`
	Brand             string        `json:"brand"`
	PriceCents        int64         `json:"price_cents"`
	QuantityRemaining int           `json:"quantity_remaining"`
	QuantitySold      int           `json:"quantity_sold"`
	QuantityThreshold int           `json:"quantity_threshold"`
	Status            ProductStatus `json:"status"`
	CreatedAt         time.Time     `json:"created_at"`
}

// DeriveProductStatus maps a remaining quantity onto the stock badge shown at
// the counter.
func DeriveProductStatus(remaining int, threshold int) ProductStatus {
	switch {
	case remaining <= 0:
		return ProductStatusOutOfStock
	case remaining <= threshold:
		return ProductStatusLowInStock
	default:
		return ProductStatusAvailable
	}
}

type ProductCreateRequest struct {
	Name              string `json:"name"`
	PartNumber        string `json:"part_number"`
	Brand             string `json:"brand"`
	PriceCents        int64  `json:"price_cents"`
	QuantityRemaining int    `json:"quantity_remaining"`
	QuantityThreshold int    `json:"quantity_threshold"`
}

type ProductSearchRequest struct {
	Page   int           `json:"page"`
	Limit  int           `json:"limit"`
	Search string        `json:"search"`
	Status ProductStatus `json:"status,omitempty"`
}

type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"total_pages"`
}

func NewPagination(total int, page int, limit int) Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Pagination{Total: total, Page: page, Limit: limit, TotalPages: totalPages}
}

type ProductSearchResponse struct {
	Products   []Product  `json:"products"`
	Pagination Pagination `json:"pagination"`
}

type TransactionLine struct {
	ProductID string `json:"product_id"`
	Count     int    `json:"count"`
}

type TransactionItem struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	Count          int    `json:"count"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type Transaction struct {
	ID             string            `json:"id"`
	InvoiceID      string            `json:"invoice_id"`
	IdempotencyKey string            `json:"-"`
	Items          []TransactionItem `json:"items"`
	CashierID      string            `json:"cashier_id"`
	PartsmanID     string            `json:"partsman_id,omitempty"`
	SubtotalCents  int64             `json:"subtotal_cents"`
	Discount       float64           `json:"discount"`
	DiscountCents  int64             `json:"discount_cents"`
	TotalCents     int64             `json:"total_cents"`
	Status         TransactionStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Lines strips an item list down to the product/count pairs the service
// accepts on write.
func (t Transaction) Lines() []TransactionLine {
	lines := make([]TransactionLine, 0, len(t.Items))
	for _, item := range t.Items {
		lines = append(lines, TransactionLine{ProductID: item.ProductID, Count: item.Count})
	}
	return lines
}

func (t Transaction) ItemCount() int {
	total := 0
	for _, item := range t.Items {
		total += item.Count
	}
	return total
}

type TransactionCreateRequest struct {
	Items          []TransactionLine `json:"items"`
	Cashier        string            `json:"cashier"`
	TotalCents     int64             `json:"total_cents"`
	Discount       float64           `json:"discount"`
	Status         TransactionStatus `json:"status"`
	Partsman       string            `json:"partsman,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

type TransactionUpdateRequest struct {
	Items      []TransactionLine  `json:"items,omitempty"`
	TotalCents *int64             `json:"total_cents,omitempty"`
	Discount   *float64           `json:"discount,omitempty"`
	Status     *TransactionStatus `json:"status,omitempty"`
	Partsman   *string            `json:"partsman,omitempty"`
}

type TransactionResponse struct {
	Transaction Transaction `json:"transaction"`
	Duplicate   bool        `json:"duplicate"`
}

type StatusChangeResponse struct {
	Status      string       `json:"status"`
	Message     string       `json:"message"`
	Transaction *Transaction `json:"transaction,omitempty"`
}

type TransactionListRequest struct {
	Page   int               `json:"page"`
	Limit  int               `json:"limit"`
	Search string            `json:"search"`
	Status TransactionStatus `json:"status,omitempty"`
}

type TransactionListResponse struct {
	Data       []Transaction `json:"data"`
	Pagination Pagination    `json:"pagination"`
}

// TransactionFilter is the store-level query behind a transaction list.
type TransactionFilter struct {
	CashierID string
	Search    string
	Status    TransactionStatus
	Offset    int
	Limit     int
}

type PeriodStats struct {
	TotalCents               int64   `json:"total_cents"`
	TransactionCount         int     `json:"transaction_count"`
	ItemsSold                int     `json:"items_sold"`
	AvgTransactionValueCents int64   `json:"avg_transaction_value_cents"`
	AvgItemsPerTransaction   float64 `json:"avg_items_per_transaction"`
}

type TransactionStatistics struct {
	Today                  PeriodStats `json:"today"`
	Yesterday              PeriodStats `json:"yesterday"`
	ThisWeek               PeriodStats `json:"this_week"`
	LastWeek               PeriodStats `json:"last_week"`
	ThisMonth              PeriodStats `json:"this_month"`
	LastMonth              PeriodStats `json:"last_month"`
	ThisYear               PeriodStats `json:"this_year"`
	LastYear               PeriodStats `json:"last_year"`
	ChangeTodayVsYesterday float64     `json:"change_today_vs_yesterday"`
	ChangeMonthVsLast      float64     `json:"change_month_vs_last"`
}

// SalesPoint is one bucket of a sales series. Label names the bucket: a date
// for days, an ISO week for weeks and a year-month for months.
type SalesPoint struct {
	Label            string    `json:"label"`
	Start            time.Time `json:"start"`
	AmountCents      int64     `json:"amount_cents"`
	TransactionCount int       `json:"transaction_count"`
}

type ProductSales struct {
	ProductID  string  `json:"product_id"`
	Name       string  `json:"name"`
	TotalSold  int     `json:"total_sold"`
	Percentage float64 `json:"percentage"`
}

// SalesTrends holds month over month growth in percent.
type SalesTrends struct {
	TotalSales   float64 `json:"total_sales"`
	TotalIncome  float64 `json:"total_income"`
	Transactions float64 `json:"transactions"`
}

// SalesStatistics is the store-wide dashboard for the current month.
type SalesStatistics struct {
	Month                    string         `json:"month"`
	TotalSalesCents          int64          `json:"total_sales_cents"`
	TotalIncomeCents         int64          `json:"total_income_cents"`
	TransactionCount         int            `json:"transaction_count"`
	ActiveProducts           int            `json:"active_products"`
	LowStockProducts         int            `json:"low_stock_products"`
	TotalInventoryValueCents int64          `json:"total_inventory_value_cents"`
	Trends                   SalesTrends    `json:"trends"`
	DailySales               []SalesPoint   `json:"daily_sales"`
	WeeklySales              []SalesPoint   `json:"weekly_sales"`
	MonthlySales             []SalesPoint   `json:"monthly_sales"`
	TopSellingProducts       []ProductSales `json:"top_selling_products"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

const (
	RoleAdmin    = "admin"
	RoleCashier  = "cashier"
	RolePartsman = "partsman"
)

type UserCreateRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type User struct {
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type UserListResponse struct {
	Users []User `json:"users"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Name      string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

func (u UserAccount) Public() User {
	return User{
		Username:  u.Username,
		Name:      u.Name,
		Role:      u.Role,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
	}
}
