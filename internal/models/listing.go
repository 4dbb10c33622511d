package models

// StatusSold marks a listing that is sold or has a sale in progress.
// Other status codes are undocumented and treated as active.
const StatusSold = 2

// RawListing is one entry of the marketplace "items" response.
type RawListing struct {
	ItemID         string
	MarketHashName string
	Price          Price
	Status         int
}

// Active reports whether the listing is still for sale.
func (r RawListing) Active() bool {
	return r.Status != StatusSold
}

// Offer is a competing sell offer for a market hash name.
type Offer struct {
	Price Price
}

// InventoryItem is an item in the account inventory that can be listed for sale.
type InventoryItem struct {
	ID             string
	MarketHashName string
	MarketPrice    Price
	Tradable       bool
}

// Listing is the per-cycle view of one of our listings against the market.
// It is rebuilt every cycle and never mutated after construction.
type Listing struct {
	ItemID         string
	MarketHashName string
	CurrentPrice   Price
	BestPrice      Price
	Position       int
	// HasOffers is false when no competing offer was found and BestPrice
	// fell back to CurrentPrice.
	HasOffers bool
}

// NewListing builds a Listing and computes its estimated position.
func NewListing(raw RawListing, offers []Offer) Listing {
	best := raw.Price
	hasOffers := len(offers) > 0
	if hasOffers {
		best = offers[0].Price
	}
	return Listing{
		ItemID:         raw.ItemID,
		MarketHashName: raw.MarketHashName,
		CurrentPrice:   raw.Price,
		BestPrice:      best,
		Position:       EstimatePosition(raw.Price, best),
		HasOffers:      hasOffers,
	}
}

// EstimatePosition returns 1 when current is at or below the best offer.
// Otherwise every Tick of gap counts as roughly one seller ahead of us, with
// a minimum of 2. This is an estimate: other sellers between the best offer
// and our price are not observable through the API.
func EstimatePosition(current, best Price) int {
	if current <= best {
		return 1
	}
	pos := int((current-best)/Tick) + 1
	if pos < 2 {
		return 2
	}
	return pos
}
