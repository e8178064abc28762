package trade

import (
	"encoding/json"
	"fmt"
	"strings"

	fpmath "EscrowSettle/internal/math"

	"github.com/google/uuid"
)

// Side is a party's role in the trade.
type Side int8

const (
	SideAsk Side = iota // delivers the base asset
	SideBid             // delivers the quote asset
)

func (s Side) String() string {
	switch s {
	case SideAsk:
		return "ask"
	case SideBid:
		return "bid"
	default:
		return fmt.Sprintf("side(%d)", int8(s))
	}
}

func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "ask", "sell":
		return SideAsk, nil
	case "bid", "buy":
		return SideBid, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

func (s Side) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Side) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseSide(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// LegKind identifies which half of a trade a settlement call covers.
type LegKind int8

const (
	LegSource      LegKind = iota // base delivery on the source chain
	LegDestination                // quote delivery on the destination chain
	LegSameChain                  // both deliveries on one chain
)

func (k LegKind) String() string {
	switch k {
	case LegSource:
		return "source"
	case LegDestination:
		return "destination"
	case LegSameChain:
		return "same_chain"
	default:
		return fmt.Sprintf("leg(%d)", int8(k))
	}
}

func ParseLegKind(s string) (LegKind, error) {
	switch strings.ToLower(s) {
	case "source":
		return LegSource, nil
	case "destination":
		return LegDestination, nil
	case "same_chain":
		return LegSameChain, nil
	default:
		return 0, fmt.Errorf("unknown leg kind %q", s)
	}
}

// Trade is a bilateral settlement instruction. Price and Quantity are
// fixed-point (price scale 1e2, quantity scale 1e6). Nonce1/Nonce2 are
// carried opaquely and recorded; they impose no ordering.
type Trade struct {
	OrderID             string    `json:"order_id"`
	Party1              uuid.UUID `json:"party1"`
	Party2              uuid.UUID `json:"party2"`
	Party1ReceiveWallet string    `json:"party1_receive_wallet"`
	Party2ReceiveWallet string    `json:"party2_receive_wallet"`
	BaseAsset           string    `json:"base_asset"`
	QuoteAsset          string    `json:"quote_asset"`
	Price               int64     `json:"price"`
	Quantity            int64     `json:"quantity"`
	Party1Side          Side      `json:"party1_side"`
	Party2Side          Side      `json:"party2_side"`
	SourceChainID       int64     `json:"source_chain_id"`
	DestinationChainID  int64     `json:"destination_chain_id"`
	Timestamp           int64     `json:"timestamp"`
	Nonce1              int64     `json:"nonce1"`
	Nonce2              int64     `json:"nonce2"`
}

// QuoteAmount is the quote owed by the bid party, truncated toward zero.
func (t *Trade) QuoteAmount() int64 {
	return fpmath.QuoteAmount(t.Quantity, t.Price)
}

// askParty returns the base deliverer and the wallet that receives the quote.
func (t *Trade) askParty() (party uuid.UUID, receiveWallet string) {
	if t.Party1Side == SideAsk {
		return t.Party1, t.Party1ReceiveWallet
	}
	return t.Party2, t.Party2ReceiveWallet
}

// bidParty returns the quote deliverer and the wallet that receives the base.
func (t *Trade) bidParty() (party uuid.UUID, receiveWallet string) {
	if t.Party1Side == SideBid {
		return t.Party1, t.Party1ReceiveWallet
	}
	return t.Party2, t.Party2ReceiveWallet
}

// Leg is one directed delivery derived from the trade terms.
type Leg struct {
	Kind   LegKind
	Payer  uuid.UUID
	Wallet string // receive wallet credited by the asset mover
	Asset  string
	Amount int64
}

// BaseLeg is the base-asset delivery: ask party pays quantity of the
// base asset into the bid party's receive wallet.
func (t *Trade) BaseLeg(kind LegKind) Leg {
	payer, _ := t.askParty()
	_, wallet := t.bidParty()
	return Leg{
		Kind:   kind,
		Payer:  payer,
		Wallet: wallet,
		Asset:  t.BaseAsset,
		Amount: t.Quantity,
	}
}

// QuoteLeg is the quote-asset delivery: bid party pays quantity*price of
// the quote asset into the ask party's receive wallet.
func (t *Trade) QuoteLeg(kind LegKind) Leg {
	payer, _ := t.bidParty()
	_, wallet := t.askParty()
	return Leg{
		Kind:   kind,
		Payer:  payer,
		Wallet: wallet,
		Asset:  t.QuoteAsset,
		Amount: t.QuoteAmount(),
	}
}

// Legs expands a settlement call into its deliveries. A source-leg call
// settles the base delivery, a destination-leg call the quote delivery,
// and a same-chain call both.
func (t *Trade) Legs(kind LegKind) []Leg {
	switch kind {
	case LegSource:
		return []Leg{t.BaseLeg(LegSource)}
	case LegDestination:
		return []Leg{t.QuoteLeg(LegDestination)}
	default:
		return []Leg{t.BaseLeg(LegSameChain), t.QuoteLeg(LegSameChain)}
	}
}

// Requirement is the combined amount one payer owes in one asset across
// a settlement call's deliveries.
type Requirement struct {
	Payer  uuid.UUID
	Asset  string
	Amount int64
}

// Requirements merges a call's legs per (payer, asset). A same-chain
// trade can put both deliveries on one escrow pool (same party on both
// sides with base == quote); coverage and locking must then be checked
// against the sum, never per delivery.
func Requirements(legs []Leg) []Requirement {
	reqs := make([]Requirement, 0, len(legs))
outer:
	for _, leg := range legs {
		for i := range reqs {
			if reqs[i].Payer == leg.Payer && reqs[i].Asset == leg.Asset {
				reqs[i].Amount += leg.Amount
				continue outer
			}
		}
		reqs = append(reqs, Requirement{Payer: leg.Payer, Asset: leg.Asset, Amount: leg.Amount})
	}
	return reqs
}
