package wire

import (
	"encoding/json"
	"fmt"
)

// BindRequest assigns a peer to a coordination group.
type BindRequest struct {
	PlayerID string `json:"playerId"`
	CombatID string `json:"combatId"`
}

// CompletionRequest reports that a peer finished a checkpoint level.
type CompletionRequest struct {
	PlayerID string `json:"playerId"`
	CombatID string `json:"combatId"`
	LevelNum int    `json:"levelNum"`
}

// CompletionReply answers a CompletionRequest. A held connection receives one
// reply with AllCompleted false and, later, a second with AllCompleted true.
type CompletionReply struct {
	WaitingForPlayers []string `json:"waitingForPlayers,omitempty"`
	Error             string   `json:"error,omitempty"`
	CurrentLevel      int      `json:"currentLevel"`
	AllCompleted      bool     `json:"allCompleted"`
}

// ParseBind decodes a bind message. Both ids must be non-empty strings.
func ParseBind(b []byte) (BindRequest, error) {
	var req BindRequest
	if err := json.Unmarshal(b, &req); err != nil {
		return BindRequest{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if req.PlayerID == "" {
		return BindRequest{}, fmt.Errorf("%w: playerId", ErrMissingField)
	}
	if req.CombatID == "" {
		return BindRequest{}, fmt.Errorf("%w: combatId", ErrMissingField)
	}
	return req, nil
}

// ParseCompletion decodes a completion report. levelNum must be present and an
// integer; a report without it is rejected rather than read as level 0.
func ParseCompletion(b []byte) (CompletionRequest, error) {
	var raw struct {
		LevelNum *int   `json:"levelNum"`
		PlayerID string `json:"playerId"`
		CombatID string `json:"combatId"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return CompletionRequest{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.PlayerID == "" {
		return CompletionRequest{}, fmt.Errorf("%w: playerId", ErrMissingField)
	}
	if raw.CombatID == "" {
		return CompletionRequest{}, fmt.Errorf("%w: combatId", ErrMissingField)
	}
	if raw.LevelNum == nil {
		return CompletionRequest{}, fmt.Errorf("%w: levelNum", ErrMissingField)
	}
	return CompletionRequest{
		PlayerID: raw.PlayerID,
		CombatID: raw.CombatID,
		LevelNum: *raw.LevelNum,
	}, nil
}

// ErrorReply builds the reply sent for a report that could not be processed.
func ErrorReply(err error) CompletionReply {
	return CompletionReply{Error: err.Error()}
}
