package models

type Network string

const (
	NetworkMTN     Network = "MTN"
	NetworkAirtel  Network = "AIRTEL"
	NetworkGlo     Network = "GLO"
	Network9Mobile Network = "9MOBILE"
)

// DataPlan is a bundle sold on the storefront. ProviderPlanID is the id the
// delivery provider understands and is not validated locally.
type DataPlan struct {
	ID             int64   `json:"id"`
	Network        Network `json:"network"`
	DataAmount     string  `json:"data"`
	Validity       string  `json:"validity"`
	Price          int64   `json:"price"`
	ProviderPlanID int     `json:"plan_id"`
}

type Product struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Image       string `json:"image"`
	InStock     bool   `json:"in_stock"`
}
