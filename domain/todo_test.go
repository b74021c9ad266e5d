package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
)

func TestTodoMarshalIncludesCompletedFalse(t *testing.T) {
	todo := Todo{ID: 1, Task: "buy milk"}

	payload, err := sonic.Marshal(todo)
	if err != nil {
		t.Fatalf("marshal todo: %v", err)
	}

	if string(payload) != `{"id":1,"task":"buy milk","completed":false}` {
		t.Fatalf("unexpected payload: %s", payload)
	}
}

func TestValidateTask(t *testing.T) {
	tests := []struct {
		name string
		task string
		want error
	}{
		{name: "ok", task: "buy milk", want: nil},
		{name: "empty", task: "", want: ErrEmptyTask},
		{name: "whitespace", task: " \t\n", want: ErrEmptyTask},
		{name: "at limit", task: strings.Repeat("a", MaxTaskLength), want: nil},
		{name: "over limit", task: strings.Repeat("a", MaxTaskLength+1), want: ErrTaskTooLong},
		{name: "multibyte at limit", task: strings.Repeat("é", MaxTaskLength), want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateTask(tt.task); !errors.Is(got, tt.want) {
				t.Fatalf("ValidateTask(%q) = %v, want %v", tt.task, got, tt.want)
			}
		})
	}
}
