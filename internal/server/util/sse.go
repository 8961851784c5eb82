package util

import (
	"encoding/json"
	"fmt"

	"github.com/labstack/echo/v4"
)

// PrepareSSE sets the response headers for a server-sent event stream and
// commits them. Call once before the first WriteSSEEvent.
func PrepareSSE(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	c.Response().WriteHeader(200)
}

// WriteSSEEvent writes one named event with a JSON payload and flushes it to
// the client immediately.
func WriteSSEEvent(c echo.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(c.Response(), "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", data); err != nil {
		return err
	}

	c.Response().Flush()
	return nil
}
