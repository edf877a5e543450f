package main

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bubblekit/backend/internal/bubble"
	"github.com/bubblekit/backend/internal/hooks"
)

const greeting = "Halo! Ada yang bisa dibantu?"

// demo holds the example handlers registered when the demo flag is on.
type demo struct {
	chunkDelay time.Duration
	count      atomic.Int64
}

func newDemo(chunkDelay time.Duration) *demo {
	return &demo{chunkDelay: chunkDelay}
}

func (d *demo) register(registry *hooks.Registry) {
	registry.SetMessageHandler(d.onMessage)
	registry.SetNewChatHandler(d.onNewChat)
}

// onMessage echoes the message one rune at a time and renames the bubble per chunk.
func (d *demo) onMessage(ctx context.Context, mc *hooks.MessageContext) error {
	reply, err := mc.Bubble(bubble.Options{
		Role: bubble.Set("assistant"),
		Type: bubble.Set("text"),
	})
	if err != nil {
		return err
	}
	if _, err := reply.Send(); err != nil {
		return err
	}

	for _, r := range "Echo: " + mc.Message {
		if err := reply.Stream(string(r)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.chunkDelay):
		}
		name := strconv.FormatInt(d.count.Add(1), 10)
		if err := reply.Config(bubble.Options{Name: bubble.Set(name)}); err != nil {
			return err
		}
	}

	reply.Done()
	return nil
}

func (d *demo) onNewChat(ctx context.Context, nc *hooks.NewChatContext) error {
	log.Debug().Str("component", "demo").Str("conv_id", nc.ConversationID).Msg("new chat")

	b, err := nc.Bubble(bubble.Options{
		Role: bubble.Set("assistant"),
		Type: bubble.Set("text"),
	})
	if err != nil {
		return err
	}
	if _, err := b.Send(); err != nil {
		return err
	}
	if err := b.Set(greeting); err != nil {
		return err
	}
	b.Done()
	return nil
}
