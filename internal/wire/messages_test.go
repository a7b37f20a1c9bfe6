package wire

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBind(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    BindRequest
		wantErr error
	}{
		{
			name:  "valid",
			input: `{"playerId":"A","combatId":"g1"}`,
			want:  BindRequest{PlayerID: "A", CombatID: "g1"},
		},
		{
			name:  "extra fields ignored",
			input: `{"playerId":"A","combatId":"g1","team":"red"}`,
			want:  BindRequest{PlayerID: "A", CombatID: "g1"},
		},
		{name: "not json", input: `playerId=A`, wantErr: ErrMalformed},
		{name: "truncated json", input: `{"playerId":"A","comb`, wantErr: ErrMalformed},
		{name: "wrong type", input: `{"playerId":7,"combatId":"g1"}`, wantErr: ErrMalformed},
		{name: "missing player", input: `{"combatId":"g1"}`, wantErr: ErrMissingField},
		{name: "empty combat", input: `{"playerId":"A","combatId":""}`, wantErr: ErrMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBind([]byte(tt.input))
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCompletion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    CompletionRequest
		wantErr error
	}{
		{
			name:  "valid",
			input: `{"playerId":"A","combatId":"g1","levelNum":2}`,
			want:  CompletionRequest{PlayerID: "A", CombatID: "g1", LevelNum: 2},
		},
		{
			name:  "level zero is explicit",
			input: `{"playerId":"A","combatId":"g1","levelNum":0}`,
			want:  CompletionRequest{PlayerID: "A", CombatID: "g1", LevelNum: 0},
		},
		{name: "missing level", input: `{"playerId":"A","combatId":"g1"}`, wantErr: ErrMissingField},
		{name: "fractional level", input: `{"playerId":"A","combatId":"g1","levelNum":1.5}`, wantErr: ErrMalformed},
		{name: "string level", input: `{"playerId":"A","combatId":"g1","levelNum":"2"}`, wantErr: ErrMalformed},
		{name: "missing combat", input: `{"playerId":"A","levelNum":2}`, wantErr: ErrMissingField},
		{name: "empty body", input: ``, wantErr: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCompletion([]byte(tt.input))
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestCompletionReplyJSON pins the field names peers depend on.
func TestCompletionReplyJSON(t *testing.T) {
	b, err := json.Marshal(CompletionReply{AllCompleted: false, CurrentLevel: 2, WaitingForPlayers: []string{"B", "C"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"allCompleted":false,"currentLevel":2,"waitingForPlayers":["B","C"]}`, string(b))

	b, err = json.Marshal(CompletionReply{AllCompleted: true, CurrentLevel: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"allCompleted":true,"currentLevel":3}`, string(b))

	b, err = json.Marshal(ErrorReply(errors.New("missing field: levelNum")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"allCompleted":false,"currentLevel":0,"error":"missing field: levelNum"}`, string(b))
}
