package orderbook

// Side is BUY or SELL, kept as the teacher's signed int8 so a side can be
// used directly as a sort-direction multiplier where convenient.
type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Kind distinguishes LIMIT from MARKET orders (§3).
type Kind int8

const (
	Limit Kind = iota
	Market
)

// TIF is the order's time-in-force (§3, GLOSSARY).
type TIF int8

const (
	GTC TIF = iota
	IOC
)

// Status is the order lifecycle state machine from §4.1.
type Status int8

const (
	StatusNew Status = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCanceled
	StatusExpired
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusCanceled:
		return "CANCELED"
	case StatusExpired:
		return "EXPIRED"
	case StatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the order can no longer be matched, canceled,
// reduced, or moved.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusExpired, StatusRejected:
		return true
	default:
		return false
	}
}

// Order is a single resting-or-incoming order (§3). Price is 0 for MARKET
// orders that are not MARKET BUY with a quote budget (§4.2.1).
type Order struct {
	ID             uint64
	UserID         uint64
	SymbolID       uint32
	Side           Side
	Kind           Kind
	TIF            TIF
	Price          uint64 // scaled, 0 for MARKET SELL / unconstrained MARKET BUY
	Qty            uint64 // scaled
	QuoteBudget    uint64 // scaled quote-asset budget, MARKET BUY only (§4.2.1)
	FilledQty      uint64
	FilledNotional uint64 // cumulative price*qty matched, used to track a MARKET BUY's quote budget (§4.2.1)
	Status         Status
	SeqID          uint64
	CID            string // optional client order id, for idempotency (§3)
	VIPLevel       int32  // snapshotted at admission time, used by settlement fee lookup (§4.4)
}

// Remaining returns the order's unfilled quantity.
func (o *Order) Remaining() uint64 {
	return o.Qty - o.FilledQty
}

type workingTaker struct {
	*Order
}

// Fill records one maker/taker match produced by Place (§4.1).
type Fill struct {
	Price      uint64
	Qty        uint64
	MakerID    uint64
	TakerID    uint64
	MakerUser  uint64
	TakerUser  uint64
	MakerVIP   int32
	TakerVIP   int32
	MakerDone  bool // true if this fill fully consumed the maker's remaining qty
}

// PriceLevel is an aggregated depth row (§4.1 depth()).
type PriceLevel struct {
	Price uint64
	Qty   uint64
}
