package entity

import "errors"

// ErrMissingGameContext is returned when an operation that needs a game
// identity is called with a context that does not carry one.
var ErrMissingGameContext = errors.New("game context missing from context")

// GameID identifies one running game. Each game has its own isolated
// memory space inside a shared store.
type GameID string

// Context holds the identity of the game and character a call acts for.
type Context struct {
	// GameID is mandatory and determines the memory isolation boundary
	GameID GameID

	// CharacterID is optional and only used for logging and audit entries
	CharacterID string
}

// NewContext creates a new Context with the specified game ID and optional character ID.
func NewContext(gameID GameID, characterID string) Context {
	return Context{
		GameID:      gameID,
		CharacterID: characterID,
	}
}
