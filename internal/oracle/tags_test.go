package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyTag(t *testing.T) {
	tests := []struct {
		in        string
		wantType  string
		wantClean string
		wantOK    bool
	}{
		{"!! morning run", "activity", "morning run", true},
		{".. interesting thought", "note", "interesting thought", true},
		{"$$ buy milk", "todo", "buy milk", true},
		{"++ how's it going", "chat", "how's it going", true},
		{"-- keep this link", "save", "keep this link", true},
		{":: export all", "command", "export all", true},
		{"!!glued", "activity", "glued", true},
		{"..THINKING", "note", "THINKING", true},
		{"todo buy milk", "todo", "buy milk", true},
		{"TODO buy milk", "todo", "buy milk", true},
		{"to-do buy milk", "todo", "buy milk", true},
		{"act went climbing", "activity", "went climbing", true},
		{"ACT work", "activity", "work", true},
		{"note a thing", "note", "a thing", true},
		{"save this", "save", "this", true},
		{"cmd export", "command", "export", true},
		{"  $$ padded  ", "todo", "padded", true},
		{"act", "activity", "", true},
		{"!!", "activity", "", true},
		{"hello world", "", "hello world", false},
		{"todoish text", "", "todoish text", false},
		{"actglued", "", "actglued", false},
		{"$", "", "$", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			projType, clean, ok := ClassifyTag(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantType, projType)
			assert.Equal(t, tt.wantClean, clean)
		})
	}
}
