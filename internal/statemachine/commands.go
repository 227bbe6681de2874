package statemachine

import "github.com/imaddar/pair-match/internal/domain"

type CommandKind string

const (
	CommandRenderDeck         CommandKind = "render_deck"
	CommandSetFace            CommandKind = "set_face"
	CommandMarkPaired         CommandKind = "mark_paired"
	CommandMarkWrong          CommandKind = "mark_wrong"
	CommandUpdateScore        CommandKind = "update_score"
	CommandUpdateTriedTimes   CommandKind = "update_tried_times"
	CommandAnnounceCompletion CommandKind = "announce_completion"
	// CommandScheduleRecovery is addressed to the session driver, not the presenter.
	CommandScheduleRecovery CommandKind = "schedule_recovery"
)

// Command is a one-way instruction for the presentation layer.
type Command struct {
	Kind       CommandKind       `json:"kind"`
	Deck       domain.Deck       `json:"deck,omitempty"`
	Positions  []domain.Position `json:"positions,omitempty"`
	FaceUp     bool              `json:"face_up"`
	Card       *domain.Card      `json:"card,omitempty"`
	Score      int               `json:"score"`
	TriedTimes int               `json:"tried_times"`
	DelayMS    uint64            `json:"delay_ms,omitempty"`
}

func renderDeck(deck domain.Deck) Command {
	return Command{Kind: CommandRenderDeck, Deck: deck.Clone()}
}

func showFace(p domain.Position) Command {
	card := domain.CardAt(p)
	return Command{Kind: CommandSetFace, Positions: []domain.Position{p}, FaceUp: true, Card: &card}
}

func hideFace(p domain.Position) Command {
	return Command{Kind: CommandSetFace, Positions: []domain.Position{p}}
}

func markPaired(positions ...domain.Position) Command {
	return Command{Kind: CommandMarkPaired, Positions: append([]domain.Position(nil), positions...)}
}

func markWrong(positions ...domain.Position) Command {
	return Command{Kind: CommandMarkWrong, Positions: append([]domain.Position(nil), positions...)}
}

func updateScore(score int) Command {
	return Command{Kind: CommandUpdateScore, Score: score}
}

func updateTriedTimes(times int) Command {
	return Command{Kind: CommandUpdateTriedTimes, TriedTimes: times}
}

func announceCompletion(score int, triedTimes int) Command {
	return Command{Kind: CommandAnnounceCompletion, Score: score, TriedTimes: triedTimes}
}

func scheduleRecovery(delayMS uint64) Command {
	return Command{Kind: CommandScheduleRecovery, DelayMS: delayMS}
}

// RecoveryDelay returns the delay requested by a schedule_recovery command, if any.
func RecoveryDelay(commands []Command) (uint64, bool) {
	for _, cmd := range commands {
		if cmd.Kind == CommandScheduleRecovery {
			return cmd.DelayMS, true
		}
	}
	return 0, false
}
