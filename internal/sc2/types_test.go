package sc2

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScreenName(t *testing.T) {
	assert.Equal(t, "InGame", ScreenName(nil))
	assert.Equal(t, "InGame", ScreenName([]string{}))
	assert.Equal(t, "ScreenHome", ScreenName([]string{"ScreenBackgroundSC2/ScreenBackgroundSC2", "ScreenNavigationSC2/ScreenHome"}))
	assert.Equal(t, "ScreenScore", ScreenName([]string{"ScreenScore"}))
}

func TestParseRaceAndBucket(t *testing.T) {
	assert.Equal(t, RaceZerg, ParseRace("Zerg"))
	assert.Equal(t, RaceTerran, ParseRace("Terran"))
	assert.Equal(t, RaceProtoss, ParseRace("Prot"))
	assert.Equal(t, RaceRandom, ParseRace("random"))
	assert.Equal(t, RaceUnknown, ParseRace(""))
	assert.Equal(t, RaceUnknown, ParseRace("Xel'Naga"))

	assert.Equal(t, RaceRandom, RaceUnknown.Bucket())
	assert.Equal(t, RaceZerg, RaceZerg.Bucket())
}

func TestParseResult(t *testing.T) {
	assert.Equal(t, ResultUndecided, ParseResult(""))
	assert.Equal(t, ResultVictory, ParseResult("Victory"))
	assert.False(t, ResultUndecided.Decided())
	assert.True(t, ResultDefeat.Decided())
	assert.True(t, ResultTie.Decided())
}

func TestIsValid1v1(t *testing.T) {
	human := func(name string) Player { return Player{Name: name, Type: PlayerUser} }
	ai := Player{Name: "A.I. 1 (Elite)", Type: PlayerComputer}

	assert.True(t, (&GameState{Players: []Player{human("a"), human("b")}}).IsValid1v1())
	assert.False(t, (&GameState{Players: []Player{human("a"), ai}}).IsValid1v1())
	assert.False(t, (&GameState{Players: []Player{human("a"), human("b"), ai}}).IsValid1v1())
	assert.False(t, (&GameState{Players: []Player{human("a"), human("b"), human("c")}}).IsValid1v1())
	assert.False(t, (*GameState)(nil).IsValid1v1())
}

func TestFindPlayer(t *testing.T) {
	players := []Player{
		{ID: 1, Name: "Maru", Type: PlayerUser},
		{ID: 2, Name: "MaruFan", Type: PlayerUser},
	}

	p, n := FindPlayer(players, "Maru", true)
	if assert.NotNil(t, p) {
		assert.Equal(t, 1, p.ID)
	}
	assert.Equal(t, 1, n)

	p, n = FindPlayer(players, "maru", true)
	assert.Nil(t, p)
	assert.Equal(t, 0, n)

	p, n = FindPlayer(players, "maru", false)
	if assert.NotNil(t, p) {
		assert.Equal(t, "Maru", p.Name, "first match wins")
	}
	assert.Equal(t, 2, n)

	p, n = FindPlayer(players, "serral", false)
	assert.Nil(t, p)
	assert.Equal(t, 0, n)

	twins := []Player{
		{ID: 1, Name: "Maru", Type: PlayerUser},
		{ID: 2, Name: "Maru", Type: PlayerUser},
	}
	p, n = FindPlayer(twins, "Maru", true)
	if assert.NotNil(t, p) {
		assert.Equal(t, 1, p.ID, "first match wins")
	}
	assert.Equal(t, 2, n, "every exact hit is counted")
}

func TestOpponent(t *testing.T) {
	players := []Player{
		{ID: 1, Name: "Maru", Race: RaceTerran},
		{ID: 2, Name: "Serral", Race: RaceZerg},
	}
	opp := Opponent(players, &players[0])
	if assert.NotNil(t, opp) {
		assert.Equal(t, "Serral", opp.Name)
	}
	assert.Nil(t, Opponent(players, nil))
}
