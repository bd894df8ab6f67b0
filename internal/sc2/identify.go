package sc2

import "strings"

// FindPlayer locates the configured player among players.
//
// With exact set the name must match case-sensitively. Otherwise the first
// player whose name contains name, ignoring case, wins. The second return is
// the number of candidates found so callers can warn on zero or ambiguous
// matches.
func FindPlayer(players []Player, name string, exact bool) (*Player, int) {
	if len(players) == 0 || name == "" {
		return nil, 0
	}

	match := func(candidate string) bool { return candidate == name }
	if !exact {
		needle := strings.ToLower(name)
		match = func(candidate string) bool {
			return strings.Contains(strings.ToLower(candidate), needle)
		}
	}

	var found *Player
	count := 0
	for i := range players {
		if players[i].Name == "" {
			continue
		}
		if match(players[i].Name) {
			if found == nil {
				p := players[i]
				found = &p
			}
			count++
		}
	}
	return found, count
}

// Opponent returns the first player that is not me
func Opponent(players []Player, me *Player) *Player {
	if me == nil {
		return nil
	}
	for i := range players {
		if players[i].ID == me.ID && players[i].Name == me.Name {
			continue
		}
		p := players[i]
		return &p
	}
	return nil
}
