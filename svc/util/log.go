package util

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"io"
	"os"
	"strings"
	"time"
)

var globalLog = zerolog.New(io.Discard)

func InitLog(level string, dev bool) {
	initLog(os.Stdout, level, dev)
}
func initLog(w io.Writer, level string, dev bool) {
	var out io.Writer = redactWriter{w: w}
	if dev {
		out = zerolog.ConsoleWriter{
			Out:        redactWriter{w: w},
			TimeFormat: time.RFC3339,
		}
	}
	zerolog.SetGlobalLevel(parseLevel(level))
	globalLog = zerolog.New(out).
		With().
		Timestamp().
		Caller().
		Str("service", "ctrlv").
		Logger()
	log.Logger = globalLog
}
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}
func Debug() *zerolog.Event { return globalLog.Debug() }
func Info() *zerolog.Event  { return globalLog.Info() }
func Warn() *zerolog.Event  { return globalLog.Warn() }
func Error() *zerolog.Event { return globalLog.Error() }
func Fatal() *zerolog.Event { return globalLog.Fatal() }
func GetLogger() zerolog.Logger {
	return globalLog
}

// redactWriter scrubs key=value secrets and long tokens from every line
// before it leaves the process.
type redactWriter struct {
	w io.Writer
}

func (r redactWriter) Write(p []byte) (int, error) {
	if !secretPattern.Match(p) && !tokenPattern.Match(p) {
		return r.w.Write(p)
	}
	if _, err := io.WriteString(r.w, RedactLogLine(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
