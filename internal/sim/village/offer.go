package village

import (
	"fmt"
	"sort"
	"time"
)

type OfferStatus string

const (
	OfferOpen      OfferStatus = "OPEN"
	OfferCompleted OfferStatus = "COMPLETED"
	OfferCancelled OfferStatus = "CANCELLED"
)

type ItemQty struct {
	Resource string `json:"resource"`
	Quantity int    `json:"quantity"`
}

type Offer struct {
	ID   string
	From string
	Give ItemQty
	Want ItemQty

	Status    OfferStatus
	CreatedAt time.Time

	AcceptedBy string
	ClosedAt   time.Time
}

func OfferID(n uint64) string {
	return fmt.Sprintf("OF%06d", n)
}

// CreateOffer posts an offer on the trading board. The offerer must hold the
// give side at creation time; nothing is escrowed.
func (s *State) CreateOffer(fromID string, give, want ItemQty) (*Offer, bool) {
	gr, okG := s.IsResource(give.Resource)
	wr, okW := s.IsResource(want.Resource)
	if !okG || !okW || give.Quantity <= 0 || want.Quantity <= 0 {
		return nil, false
	}
	if s.players[fromID] == nil || !s.Has(fromID, gr, give.Quantity) {
		return nil, false
	}
	s.nextOffer++
	o := &Offer{
		ID:        OfferID(s.nextOffer),
		From:      fromID,
		Give:      ItemQty{Resource: gr, Quantity: give.Quantity},
		Want:      ItemQty{Resource: wr, Quantity: want.Quantity},
		Status:    OfferOpen,
		CreatedAt: s.Now(),
	}
	s.offers[o.ID] = o
	return o, true
}

func (s *State) Offer(id string) *Offer { return s.offers[id] }

// Offers returns every offer sorted by id.
func (s *State) Offers() []*Offer {
	out := make([]*Offer, 0, len(s.offers))
	for _, o := range s.offers {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *State) OpenOffers() []*Offer {
	var out []*Offer
	for _, o := range s.Offers() {
		if o.Status == OfferOpen {
			out = append(out, o)
		}
	}
	return out
}

// AcceptOffer performs the four-way swap for an open offer: give moves
// from the offerer to toID and want moves back. Both sides must hold enough
// before anything moves; on failure nothing is mutated.
func (s *State) AcceptOffer(offerID, toID string) bool {
	o := s.offers[offerID]
	if o == nil || o.Status != OfferOpen || o.From == toID {
		return false
	}
	from, to := s.players[o.From], s.players[toID]
	if from == nil || to == nil {
		return false
	}
	if !s.Has(from.ID, o.Give.Resource, o.Give.Quantity) || !s.Has(to.ID, o.Want.Resource, o.Want.Quantity) {
		return false
	}
	from.Inventory[o.Give.Resource] -= o.Give.Quantity
	to.Inventory[o.Give.Resource] += o.Give.Quantity
	to.Inventory[o.Want.Resource] -= o.Want.Quantity
	from.Inventory[o.Want.Resource] += o.Want.Quantity

	o.Status = OfferCompleted
	o.AcceptedBy = to.ID
	o.ClosedAt = s.Now()
	return true
}

// CancelOffer withdraws an open offer; only its originator may cancel.
func (s *State) CancelOffer(offerID, playerID string) bool {
	o := s.offers[offerID]
	if o == nil || o.Status != OfferOpen || o.From != playerID {
		return false
	}
	o.Status = OfferCancelled
	o.ClosedAt = s.Now()
	return true
}

// ExpireStaleOffers cancels open offers older than maxAge and returns them.
func (s *State) ExpireStaleOffers(maxAge time.Duration) []*Offer {
	if maxAge <= 0 {
		return nil
	}
	now := s.Now()
	var out []*Offer
	for _, o := range s.OpenOffers() {
		if now.Sub(o.CreatedAt) >= maxAge {
			o.Status = OfferCancelled
			o.ClosedAt = now
			out = append(out, o)
		}
	}
	return out
}
