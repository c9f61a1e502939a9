package main

import (
	"context"
	"net/http"
)

type contextKey string

const userIDContextKey = contextKey("userID")

func (app *application) createUserContext(r *http.Request, userID int) *http.Request {
	ctx := context.WithValue(r.Context(), userIDContextKey, userID)
	return r.WithContext(ctx)
}

// getUserContext returns the authenticated user id, or 0 for anonymous
// requests.
func (app *application) getUserContext(r *http.Request) int {
	userID, ok := r.Context().Value(userIDContextKey).(int)
	if !ok {
		return 0
	}
	return userID
}
