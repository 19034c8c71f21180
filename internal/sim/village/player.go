package village

import (
	"strings"
	"time"

	"elderwood.ai/internal/sim/logic/rates"
)

type Player struct {
	ID        string
	Name      string
	Inventory map[string]int

	JoinedAt time.Time
	LastSeen time.Time

	TotalMessages int
	// Zero means no cooldown.
	CooldownUntil time.Time
	LastGatherAt  time.Time

	msgWindow rates.Window
}

// OnCooldown reports whether the player is cooled down at now.
func (p *Player) OnCooldown(now time.Time) bool {
	return !p.CooldownUntil.IsZero() && now.Before(p.CooldownUntil)
}

// MessagesInWindow is the count within the current rate window.
func (p *Player) MessagesInWindow() int { return p.msgWindow.Count }

// AddPlayer registers id on first contact and returns the player. Repeat
// calls return the existing player and only refresh LastSeen (and an empty
// name).
func (s *State) AddPlayer(id, name string) *Player {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	now := s.Now()
	name = strings.TrimSpace(name)
	if p := s.players[id]; p != nil {
		p.LastSeen = now
		if p.Name == "" && name != "" {
			p.Name = name
		}
		return p
	}
	if name == "" {
		name = "villager"
	}
	p := &Player{
		ID:        id,
		Name:      name,
		Inventory: map[string]int{},
		JoinedAt:  now,
		LastSeen:  now,
	}
	for _, r := range s.resources {
		p.Inventory[r] = 0
	}
	for r, n := range s.cfg.StarterItems {
		if rr, ok := s.IsResource(r); ok && n > 0 {
			p.Inventory[rr] += n
		}
	}
	s.players[id] = p
	s.playerOrder = append(s.playerOrder, id)
	return p
}

func (s *State) Player(id string) *Player { return s.players[id] }

// Players returns players in join order.
func (s *State) Players() []*Player {
	out := make([]*Player, 0, len(s.playerOrder))
	for _, id := range s.playerOrder {
		out = append(out, s.players[id])
	}
	return out
}

func (s *State) PlayerCount() int { return len(s.players) }

// NameOf returns the display name, or the id for unknown players.
func (s *State) NameOf(id string) string {
	if p := s.players[id]; p != nil {
		return p.Name
	}
	return id
}

// UpdateInventory adds delta to a player's resource, clamping at zero. It
// reports whether the resource key was recognized (and the player exists).
func (s *State) UpdateInventory(playerID, resource string, delta int) bool {
	p := s.players[playerID]
	r, ok := s.IsResource(resource)
	if p == nil || !ok {
		return false
	}
	p.Inventory[r] = clampAdd(p.Inventory[r], delta)
	return true
}

// Has reports whether the player holds at least qty of resource.
func (s *State) Has(playerID, resource string, qty int) bool {
	p := s.players[playerID]
	r, ok := s.IsResource(resource)
	if p == nil || !ok || qty < 0 {
		return false
	}
	return p.Inventory[r] >= qty
}

// SetCooldown overwrites the player's cooldown (last write wins).
func (s *State) SetCooldown(playerID string, until time.Time) bool {
	p := s.players[playerID]
	if p == nil {
		return false
	}
	p.CooldownUntil = until
	return true
}

// Gather grants qty of resource to the player.
func (s *State) Gather(playerID, resource string, qty int) bool {
	if qty <= 0 {
		return false
	}
	p := s.players[playerID]
	if p == nil {
		return false
	}
	if !s.UpdateInventory(playerID, resource, qty) {
		return false
	}
	p.LastGatherAt = s.Now()
	return true
}

// Gift moves qty of resource between two distinct players.
func (s *State) Gift(fromID, toID, resource string, qty int) bool {
	if qty <= 0 || fromID == toID || s.players[toID] == nil || !s.Has(fromID, resource, qty) {
		return false
	}
	s.UpdateInventory(fromID, resource, -qty)
	s.UpdateInventory(toID, resource, qty)
	return true
}

// Donate moves qty of resource from the player into the stockpile and
// refreshes quest progress.
func (s *State) Donate(playerID, resource string, qty int) bool {
	if qty <= 0 || !s.Has(playerID, resource, qty) {
		return false
	}
	s.UpdateInventory(playerID, resource, -qty)
	s.AdjustStockpile(resource, qty)
	s.RecomputeQuestProgress()
	return true
}
