package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// startSSE sends the event stream headers.
func startSSE(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // disable nginx buffering
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()
}

// writeSSE sends one event with a JSON payload.
func writeSSE(c echo.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}

// heartbeat keeps idle proxies from closing the stream.
func heartbeat(c echo.Context) error {
	if _, err := fmt.Fprint(c.Response(), ": heartbeat\n\n"); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}
