package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// writeSSEFrame writes one SSE frame containing payload as its data field
// (spec.md §6: "each event is `data: <json>\n\n`. No event:/id:/comment
// frames") and flushes it immediately so the client sees it without
// buffering delay.
func writeSSEFrame(w http.ResponseWriter, flusher http.Flusher, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
