package api

import (
	"context"

	"todo-api/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	Ping(ctx context.Context) error
	ListTodos(ctx context.Context) ([]domain.Todo, error)
	// FindTodo reports found=false with a nil error when no row matches id.
	FindTodo(ctx context.Context, id int64) (domain.Todo, bool, error)
	InsertTodo(ctx context.Context, task string, completed bool) (domain.Todo, error)
	UpdateTodo(ctx context.Context, id int64, task string, completed bool) (bool, error)
	DeleteTodo(ctx context.Context, id int64) (bool, error)
}

// Options tunes handler behaviour.
type Options struct {
	// StrictNotFound answers unknown ids with 404 instead of 200.
	StrictNotFound bool
}
