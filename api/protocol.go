package api

const todoBodyMaxSize = 64 * 1024 // 64 KiB

const (
	msgTodoCreated   = "Todo created successfully!"
	msgTodoUpdated   = "Todo updated successfully!"
	msgTodoDeleted   = "Todo deleted successfully!"
	msgTodoNotFound  = "Todo not found!"
	msgRouteNotFound = "Not Found"
	msgInvalidBody   = "invalid body"
	msgMissingTask   = "missing task"
	msgMissingDone   = "missing completed"
	msgInternalError = "internal server error"
)

// POST /todos request body
type createTodoRequest struct {
	Task *string `json:"task"`
}

// PUT /todos/{id} request body; both fields are required.
type updateTodoRequest struct {
	Task      *string `json:"task"`
	Completed *bool   `json:"completed"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type statusResponse struct {
	Status string `json:"status"`
}
