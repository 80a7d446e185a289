package domain

// Account is a snapshot of the brokerage trading account.
type Account struct {
	ID               string  `json:"id"`
	AccountNumber    string  `json:"account_number"`
	Status           string  `json:"status"`
	Currency         string  `json:"currency"`
	Cash             float64 `json:"cash"`
	BuyingPower      float64 `json:"buying_power"`
	Equity           float64 `json:"equity"`
	PortfolioValue   float64 `json:"portfolio_value"`
	PatternDayTrader bool    `json:"pattern_day_trader"`
}

// Position is one open position held in the account.
type Position struct {
	Symbol         string  `json:"symbol"`
	Qty            float64 `json:"qty"`
	Side           string  `json:"side"`
	AvgEntryPrice  float64 `json:"avg_entry_price"`
	CurrentPrice   float64 `json:"current_price"`
	MarketValue    float64 `json:"market_value"`
	UnrealizedPL   float64 `json:"unrealized_pl"`
	UnrealizedPLPC float64 `json:"unrealized_plpc"`
}
