package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger initializes the zerolog logger with the specified debug mode and output format.
func InitLogger(debug, human bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano                 // always initialize base logger with timestamp.
	base := zerolog.New(os.Stdout).With().Timestamp().Logger() // initialize base logger.
	if human {
		log.Logger = base.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339Nano,
		}) // select output format.
	} else {
		log.Logger = base // use JSON logger.
	}
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel) // set debug level.
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel) // set info level.
	}
}

// LogRenderRequest logs an accepted render request with structured fields.
func LogRenderRequest(
	requestID string,
	clientIP string,
	url string,
	selector string,
	activeRenders int,
) {
	log.Info().
		Str("event", "render_received").
		Str("request_id", requestID).
		Str("client_ip", clientIP).
		Str("url", url).
		Str("selector", selector).
		Int("active_renders", activeRenders).
		Msg("received render request")
}

// LogRenderResponse logs a completed render with structured fields.
func LogRenderResponse(
	requestID string,
	url string,
	sessionID string,
	status int,
	bytes int,
	elapsed time.Duration,
	activeRenders int,
) {
	log.Info().
		Str("event", "render_completed").
		Str("request_id", requestID).
		Str("url", url).
		Str("session_id", sessionID).
		Int("status", status).
		Int("bytes", bytes).
		Dur("elapsed", elapsed).
		Int("active_renders", activeRenders).
		Msg("completed render request")
}
