package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/imaddar/pair-match/internal/domain"
	"github.com/imaddar/pair-match/internal/statemachine"
)

var (
	errPlayerQuit  = errors.New("player quit")
	errInvalidSlot = errors.New("invalid slot")
)

// humanProvider reads slot numbers from a terminal. Quitting or running out of
// input cancels the game instead of letting the runner fall back.
type humanProvider struct {
	in     *bufio.Scanner
	out    io.Writer
	board  interface{ Render() }
	cancel context.CancelFunc
}

func newHumanProvider(in io.Reader, out io.Writer, board interface{ Render() }, cancel context.CancelFunc) *humanProvider {
	return &humanProvider{in: bufio.NewScanner(in), out: out, board: board, cancel: cancel}
}

// Observe shows a mismatched pair before it is turned back over.
func (p *humanProvider) Observe(view statemachine.View) {
	if view.State == domain.StateCardMatchFailed && p.board != nil {
		p.board.Render()
	}
}

func (p *humanProvider) NextReveal(ctx context.Context, view statemachine.View) (int, error) {
	if p.board != nil {
		p.board.Render()
	}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		prompt := "first card"
		if view.State == domain.StateSecondCardAwaits {
			prompt = "second card"
		}
		fmt.Fprintf(p.out, "  %s: slot 0-%d, or q to quit > ", prompt, len(view.Slots)-1)
		if !p.in.Scan() {
			err := p.in.Err()
			if err == nil {
				err = io.EOF
			}
			p.quit()
			return 0, err
		}

		raw := strings.ToLower(strings.TrimSpace(p.in.Text()))
		if raw == "q" || raw == "quit" {
			p.quit()
			return 0, errPlayerQuit
		}
		slot, err := parseSlot(raw, len(view.Slots))
		if err != nil {
			fmt.Fprintf(p.out, "  %v\n", err)
			continue
		}
		if !view.AcceptsReveal(slot) {
			fmt.Fprintf(p.out, "  slot %d is already face up\n", slot)
			continue
		}
		return slot, nil
	}
}

func (p *humanProvider) quit() {
	if p.cancel != nil {
		p.cancel()
	}
}

func parseSlot(raw string, deckSize int) (int, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: empty input", errInvalidSlot)
	}
	slot, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", errInvalidSlot, raw)
	}
	if slot < 0 || slot >= deckSize {
		return 0, fmt.Errorf("%w: %d is outside 0-%d", errInvalidSlot, slot, deckSize-1)
	}
	return slot, nil
}
