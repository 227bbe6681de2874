package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/imaddar/pair-match/internal/domain"
	"github.com/imaddar/pair-match/internal/statemachine"
)

const (
	ProtocolVersion      = 1
	defaultTimeout       = 2 * time.Second
	defaultDeadlineMS    = uint64(2000)
	maxResponseBodyBytes = 1 << 20
)

var (
	ErrEndpointNotConfigured = errors.New("agent endpoint not configured")
	ErrRequestTimeout        = errors.New("agent request timeout")
	ErrNetwork               = errors.New("agent network error")
	ErrMalformedResponse     = errors.New("agent response malformed")
	ErrIllegalAgentReveal    = errors.New("agent returned illegal reveal")
	ErrNothingToReveal       = errors.New("no revealable slot in view")
)

type Client struct {
	httpClient *http.Client
}

type Request struct {
	EndpointURL string
	View        statemachine.View
	DeadlineMS  uint64
}

type protocolSlot struct {
	Slot int    `json:"slot"`
	Face string `json:"face"`
	Card string `json:"card,omitempty"`
}

type protocolRequest struct {
	ProtocolVersion int            `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	State           string         `json:"state"`
	Score           int            `json:"score"`
	TriedTimes      int            `json:"tried_times"`
	Slots           []protocolSlot `json:"slots"`
	LegalSlots      []int          `json:"legal_slots"`
	DeadlineMS      uint64         `json:"deadline_ms"`
}

type protocolResponse struct {
	Slot *int `json:"slot"`
}

func New(timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return Client{httpClient: &http.Client{Timeout: timeout}}
}

// NextReveal asks the agent at req.EndpointURL which slot to reveal.
func (c Client) NextReveal(ctx context.Context, req Request) (int, error) {
	if strings.TrimSpace(req.EndpointURL) == "" {
		return 0, ErrEndpointNotConfigured
	}
	if c.httpClient == nil {
		c = New(defaultTimeout)
	}

	payload, legal, err := buildProtocolRequest(req.View, chooseDeadline(req))
	if err != nil {
		return 0, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: marshal payload: %v", ErrMalformedResponse, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %v", ErrNetwork, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeoutError(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w: %v", ErrRequestTimeout, err)
		}
		return 0, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("%w: status %d", ErrNetwork, resp.StatusCode)
	}

	limitedBody := io.LimitReader(resp.Body, maxResponseBodyBytes+1)
	decoder := json.NewDecoder(limitedBody)

	var dto protocolResponse
	if err := decoder.Decode(&dto); err != nil {
		return 0, fmt.Errorf("%w: decode: %v", ErrMalformedResponse, err)
	}
	var trailing json.RawMessage
	if err := decoder.Decode(&trailing); err != io.EOF {
		return 0, fmt.Errorf("%w: response body has trailing data", ErrMalformedResponse)
	}

	return parseAndValidateProtocolResponse(dto, legal)
}

func chooseDeadline(req Request) uint64 {
	if req.DeadlineMS > 0 {
		return req.DeadlineMS
	}
	return defaultDeadlineMS
}

func buildProtocolRequest(view statemachine.View, deadlineMS uint64) (protocolRequest, map[int]struct{}, error) {
	payload := protocolRequest{
		ProtocolVersion: ProtocolVersion,
		SessionID:       view.SessionID,
		State:           string(view.State),
		Score:           view.Score,
		TriedTimes:      view.TriedTimes,
		Slots:           make([]protocolSlot, 0, len(view.Slots)),
		LegalSlots:      make([]int, 0, len(view.Slots)),
		DeadlineMS:      deadlineMS,
	}

	legal := make(map[int]struct{}, len(view.Slots))
	for _, sv := range view.Slots {
		slot := protocolSlot{Slot: sv.Slot, Face: string(sv.Face)}
		if sv.Card != nil {
			slot.Card = formatCardASCII(*sv.Card)
		}
		payload.Slots = append(payload.Slots, slot)

		if view.AcceptsReveal(sv.Slot) {
			legal[sv.Slot] = struct{}{}
			payload.LegalSlots = append(payload.LegalSlots, sv.Slot)
		}
	}
	if len(legal) == 0 {
		return protocolRequest{}, nil, fmt.Errorf("%w: state %s", ErrNothingToReveal, view.State)
	}

	return payload, legal, nil
}

func parseAndValidateProtocolResponse(dto protocolResponse, legal map[int]struct{}) (int, error) {
	if dto.Slot == nil {
		return 0, fmt.Errorf("%w: missing slot", ErrMalformedResponse)
	}
	if _, ok := legal[*dto.Slot]; !ok {
		return 0, fmt.Errorf("%w: slot %d not legal", ErrIllegalAgentReveal, *dto.Slot)
	}
	return *dto.Slot, nil
}

func formatCardASCII(card domain.Card) string {
	return formatRankASCII(card.Rank) + formatSuitASCII(card.Suit)
}

func formatRankASCII(rank domain.Rank) string {
	switch rank {
	case domain.RankAce:
		return "A"
	case domain.RankKing:
		return "K"
	case domain.RankQueen:
		return "Q"
	case domain.RankJack:
		return "J"
	case 10:
		return "T"
	default:
		return strconv.FormatUint(uint64(rank), 10)
	}
}

func formatSuitASCII(suit domain.Suit) string {
	switch suit {
	case domain.SuitClubs:
		return "c"
	case domain.SuitDiamonds:
		return "d"
	case domain.SuitHearts:
		return "h"
	case domain.SuitSpades:
		return "s"
	default:
		return "?"
	}
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
