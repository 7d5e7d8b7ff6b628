package store

// Row keys double as lock keys and as pebble keys.
const (
	walletPrefix  = "w/"
	holdingPrefix = "h/"
	orderPrefix   = "o/"
)

// OrderKey returns the row key of an order.
func OrderKey(orderID string) string { return orderPrefix + orderID }

// WalletKey returns the row key of a member's wallet.
func WalletKey(memberID string) string { return walletPrefix + memberID }

// HoldingKey returns the row key of a member's holding in a market.
func HoldingKey(memberID, market string) string { return holdingPrefix + memberID + "/" + market }

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
