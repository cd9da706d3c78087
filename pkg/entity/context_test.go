package entity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGameContext(t *testing.T) {
	_, ok := GetGameContext(context.Background())
	assert.False(t, ok)

	ctx := ContextWithGameID(context.Background(), "game-1")
	gameCtx, ok := GetGameContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, GameID("game-1"), gameCtx.GameID)

	ctx = ContextWithGame(context.Background(), NewContext("game-2", "hero"))
	gameCtx = MustGetGameContext(ctx)
	assert.Equal(t, "hero", gameCtx.CharacterID)
}

func TestGameContext_EmptyIDIsMissing(t *testing.T) {
	ctx := ContextWithGameID(context.Background(), "")
	_, ok := GetGameContext(ctx)
	assert.False(t, ok)
	assert.Panics(t, func() { MustGetGameContext(ctx) })
}
