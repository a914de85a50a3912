package types

// ConversionRecord is one accepted conversion.  OfferID is the map key in the
// store and is not repeated in the JSON body returned by /check.
type ConversionRecord struct {
	OfferID   string `json:"-"`
	Timestamp int64  `json:"timestamp"` // ms since epoch, set by the receiver
	Payout    string `json:"payout"`
	IP        string `json:"ip"`
}

// PostbackRequest holds the raw query parameters of a postback.  Empty
// strings mean "absent".
type PostbackRequest struct {
	AffSub string
	ID     string
	Payout string
	IP     string

	// PeerIP is the transport peer address with any port stripped.
	PeerIP string
}

type CheckResponse struct {
	Completed bool              `json:"completed"`
	Data      *ConversionRecord `json:"data"`
}
