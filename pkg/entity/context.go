package entity

import (
	"context"
)

type contextKey int

const gameContextKey contextKey = iota

// ContextWithGameID adds a GameID to a context.Context.
func ContextWithGameID(ctx context.Context, gameID GameID) context.Context {
	return context.WithValue(ctx, gameContextKey, Context{GameID: gameID})
}

// ContextWithGame adds a full entity.Context to a context.Context.
func ContextWithGame(ctx context.Context, gameCtx Context) context.Context {
	return context.WithValue(ctx, gameContextKey, gameCtx)
}

// GetGameContext retrieves the entity.Context from a context.Context.
// It reports false when no context is present or the game ID is empty.
func GetGameContext(ctx context.Context) (Context, bool) {
	gameCtx, ok := ctx.Value(gameContextKey).(Context)
	if !ok || gameCtx.GameID == "" {
		return Context{}, false
	}
	return gameCtx, true
}

// MustGetGameContext retrieves the entity.Context from a context.Context.
// Panics if no game context is found.
func MustGetGameContext(ctx context.Context) Context {
	gameCtx, ok := GetGameContext(ctx)
	if !ok {
		panic("entity.Context not found in context.Context")
	}
	return gameCtx
}
