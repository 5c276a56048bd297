package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/Akaiko1/game-grove/internal/logging"
	"github.com/m-mizutani/gt"
)

func TestConfigure(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		wantErr bool
	}{
		{name: "debug", level: "debug"},
		{name: "upper case", level: "WARN"},
		{name: "error", level: "error"},
		{name: "invalid", level: "verbose", wantErr: true},
		{name: "empty", level: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := logging.Configure(&buf, tt.level, false)
			if tt.wantErr {
				gt.Error(t, err)
				return
			}
			gt.NoError(t, err)
			gt.NotNil(t, logger)
		})
	}
}

func TestConfigure_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.Configure(&buf, "info", true)
	gt.NoError(t, err)

	logger.Info("catalog scanned", slog.Int("entries", 3))
	gt.True(t, bytes.Contains(buf.Bytes(), []byte(`"entries":3`)))

	logger.Debug("hidden")
	gt.False(t, bytes.Contains(buf.Bytes(), []byte("hidden")))
}

func TestWithFrom(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := logging.With(context.Background(), logger)
	gt.True(t, logging.From(ctx) == logger)
	gt.True(t, logging.From(context.Background()) == slog.Default())
}
