package upstream

// AppResponse represents the app coupons endpoint response
type AppResponse struct {
	Coupons []AppCoupon `json:"coupons"`
	Promos  []Offer     `json:"promos"`
}

// AppCoupon represents a coupon record of the app endpoint
type AppCoupon struct {
	ID             string `json:"id"`
	PLU            string `json:"plu"`
	Title          string `json:"title"`
	Subline        string `json:"subline"`
	PriceText      string `json:"price_text"`
	QRCode         string `json:"qr_code"`
	ImageURL       string `json:"image_url"`
	StartDate      string `json:"start_date"`
	ExpirationDate string `json:"expiration_date"`
	Footnote       string `json:"footnote"`
	Hidden         bool   `json:"hidden"`
}

// Offer represents a promotion of the app endpoint
type Offer struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	ImageURL       string `json:"image_url"`
	StartDate      string `json:"start_date"`
	ExpirationDate string `json:"expiration_date"`
}

// Store represents a store of the stores listing
type Store struct {
	ID         string   `json:"id"`
	Properties []string `json:"properties"`
}

// MenuResponse represents the store menu endpoint response
type MenuResponse struct {
	Products map[string]Product `json:"products"`
	Coupons  []MenuCoupon       `json:"coupons"`
}

// Product represents a product of a store menu, price is in cents
type Product struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Price       int          `json:"price"`
	ImageURL    string       `json:"image_url"`
	ComboGroups []ComboGroup `json:"combo_groups"`
}

// ComboGroup represents a group of alternatives within a combo product
type ComboGroup struct {
	Type     string   `json:"type"`
	Products []string `json:"products"`
}

// MenuCoupon represents a coupon of a store menu
type MenuCoupon struct {
	ID             string `json:"id"`
	PLU            string `json:"plu"`
	ProductID      string `json:"product_id"`
	StartDate      string `json:"start_date"`
	ExpirationDate string `json:"expiration_date"`
}
