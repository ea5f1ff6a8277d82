package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sweeney/henny/internal/feeder"
	"github.com/sweeney/henny/internal/motor"
	"github.com/sweeney/henny/internal/store"
)

const maxBodyBytes = 64 << 10

// FeedRequest is the body of POST /api/feed and POST /api/calibration.
type FeedRequest struct {
	Grams float64 `json:"grams"`
}

// ChicksRequest is the body of POST /api/chicks.
type ChicksRequest struct {
	Count     int    `json:"count"`
	BirthDate string `json:"birth_date"` // YYYY-MM-DD
}

// ReplyJSON answers every command endpoint.
type ReplyJSON struct {
	OK       bool    `json:"ok"`
	Message  string  `json:"message"`
	ID       string  `json:"id,omitempty"`
	Duration float64 `json:"duration_seconds,omitempty"`
	Clamped  bool    `json:"clamped,omitempty"`
	Warning  string  `json:"warning,omitempty"`
}

func replyJSON(rep feeder.Reply) ReplyJSON {
	out := ReplyJSON{OK: rep.OK, Message: rep.Message}
	if res := rep.Result; res != nil {
		out.ID = res.ID
		out.Duration = res.Run.Duration.Seconds()
		out.Clamped = res.Run.Clamped
		if res.StoreErr != nil {
			out.Warning = "feed not saved: " + res.StoreErr.Error()
		}
	}
	return out
}

// httpStatus maps a command reply to a response code.
func httpStatus(rep feeder.Reply) int {
	if rep.OK {
		return http.StatusOK
	}
	switch {
	case errors.Is(rep.Err, motor.ErrBusy), errors.Is(rep.Err, motor.ErrUncalibrated):
		return http.StatusConflict
	case errors.Is(rep.Err, store.ErrWrite):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ReplyJSON{Message: msg})
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseBirthDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(store.DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("birth_date must be YYYY-MM-DD")
	}
	return t, nil
}
