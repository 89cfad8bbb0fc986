package logger

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. format is "json" or "console".
func Init(level, format string) error {
	return initTo(os.Stderr, level, format)
}

func initTo(out io.Writer, level, format string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)

	zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
		parts := strings.Split(file, "/")
		return parts[len(parts)-1] + ":" + strconv.Itoa(line)
	}

	switch format {
	case "json":
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	case "", "console":
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05.000",
			FormatLevel: func(i interface{}) string {
				return strings.ToUpper(fmt.Sprintf("%-5s", i))
			},
		}).With().Timestamp().Logger()
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	if lvl <= zerolog.DebugLevel {
		log.Logger = log.With().Caller().Logger()
	}
	return nil
}

// ParseLevel accepts zerolog level names in any case. Empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q", level)
	}
	return lvl, nil
}
