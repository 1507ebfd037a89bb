package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/loremind/loremind/core"
)

const resetDoneReply = "The mists clear, and a new adventure begins for you... (Your story and world state have been completely reset). What do you do?"

const helpReply = `Available commands:
!newgame - Resets your current adventure and starts a new one.
!replay - Shows the last message from the storyteller again.
!help - Shows this help message.

To play, just describe what you want to do.`

// handleCommand executes a "!" command and returns the reply text.
func (s *Server) handleCommand(ctx context.Context, userID, text string) string {
	parts := strings.Fields(strings.ToLower(text[1:]))
	if len(parts) == 0 {
		return "Unknown command. Type `!help` for a list of available commands."
	}
	command, args := parts[0], parts[1:]

	switch command {
	case "newgame":
		return s.handleNewGame(ctx, userID, args)
	case "replay":
		return s.handleReplay(ctx, userID)
	case "help":
		return helpReply
	default:
		return fmt.Sprintf("Unknown command: `!%s`. Type `!help` for a list of available commands.", command)
	}
}

// handleNewGame resets all of a user's data after a confirmation step. The
// confirmation must arrive within the configured window.
func (s *Server) handleNewGame(ctx context.Context, userID string, args []string) string {
	if len(args) == 0 || args[0] != "confirm" {
		s.mu.Lock()
		s.pendingResets[userID] = s.now()
		s.mu.Unlock()
		return fmt.Sprintf(
			"Are you absolutely sure you want to start a new game?\n"+
				"This will delete your current story and all world settings - this cannot be undone.\n\n"+
				"To confirm, please type `!newgame confirm` within %d seconds.",
			int(s.cfg.ConfirmWindow.Seconds()))
	}

	s.mu.Lock()
	requested, pending := s.pendingResets[userID]
	delete(s.pendingResets, userID)
	s.mu.Unlock()

	if !pending {
		return "You don't have a pending `!newgame` command. Please run `!newgame` first."
	}
	if s.now().Sub(requested) > s.cfg.ConfirmWindow {
		return "Confirmation for `!newgame` has expired. Please run the command again."
	}

	if err := s.conv.ResetUser(ctx, userID); err != nil {
		log.Printf("[SERVER] Reset failed for user %s: %v", userID, err)
		return "There was an error trying to start a new game. Please try again shortly."
	}
	log.Printf("[SERVER] Full reset completed for user %s", userID)
	return resetDoneReply
}

// handleReplay repeats the storyteller's last message.
func (s *Server) handleReplay(ctx context.Context, userID string) string {
	last, err := s.conv.LastReply(ctx, userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return "There are no messages from the storyteller to replay yet!"
		}
		log.Printf("[SERVER] Replay failed for user %s: %v", userID, err)
		return turnErrorReply
	}
	return "(Replaying last message)\n" + last
}
