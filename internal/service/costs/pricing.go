package costs

import "strings"

// Price is USD per million tokens.
type Price struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// priceTable maps model-id prefixes to prices. Ordered: more specific
// prefixes first, so "claude-3-5-haiku" wins over "claude-3-haiku"
// never matching it by accident.
var priceTable = []struct {
	prefix string
	price  Price
}{
	{"claude-opus-4", Price{15.0, 75.0}},
	{"claude-sonnet-4", Price{3.0, 15.0}},
	{"claude-3-7-sonnet", Price{3.0, 15.0}},
	{"claude-3-5-sonnet", Price{3.0, 15.0}},
	{"claude-3-5-haiku", Price{0.80, 4.0}},
	{"claude-3-opus", Price{15.0, 75.0}},
	{"claude-3-haiku", Price{0.25, 1.25}},
}

// defaultPrice prices models the table does not know. Sonnet-class is
// the conservative middle of the family.
var defaultPrice = Price{3.0, 15.0}

// PriceFor returns the price for a model id and whether the model was
// found in the table.
func PriceFor(model string) (Price, bool) {
	for _, entry := range priceTable {
		if strings.HasPrefix(model, entry.prefix) {
			return entry.price, true
		}
	}
	return defaultPrice, false
}

// Cost computes the dollar cost of a token count at this price.
func (p Price) Cost(tokensIn, tokensOut int) float64 {
	return float64(tokensIn)*p.InputPerMTok/1e6 + float64(tokensOut)*p.OutputPerMTok/1e6
}
