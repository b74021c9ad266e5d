package domain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxTaskLength matches the VARCHAR(200) task column.
const MaxTaskLength = 200

var (
	ErrEmptyTask   = errors.New("task cannot be empty")
	ErrTaskTooLong = errors.New("task cannot exceed 200 characters")
)

// Todo is a single persisted task with its completion status.
type Todo struct {
	ID        int64  `json:"id"`
	Task      string `json:"task"`
	Completed bool   `json:"completed"`
}

// ValidateTask reports whether task can be stored in the task column.
func ValidateTask(task string) error {
	if strings.TrimSpace(task) == "" {
		return ErrEmptyTask
	}
	if utf8.RuneCountInString(task) > MaxTaskLength {
		return ErrTaskTooLong
	}
	return nil
}
