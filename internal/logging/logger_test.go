package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestFieldHelpers(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})

	reqLogger := WithRequest("req-1")
	reqLogger.Info().Msg("picked up")
	corrLogger := WithCorrelation("corr-7")
	corrLogger.Info().Msg("calling out")

	out := buf.String()
	if !strings.Contains(out, `"request_id":"req-1"`) {
		t.Errorf("request id field missing: %s", out)
	}
	if !strings.Contains(out, `"correlation":"corr-7"`) {
		t.Errorf("correlation field missing: %s", out)
	}
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})

	ctx := WithContext(context.Background(), WithRequest("req-2"))
	ctxLogger := FromContext(ctx)
	ctxLogger.Info().Msg("from context")
	if !strings.Contains(buf.String(), `"request_id":"req-2"`) {
		t.Errorf("context logger not returned: %s", buf.String())
	}

	// A bare context falls back to the global logger.
	buf.Reset()
	globalLogger := FromContext(context.Background())
	globalLogger.Info().Msg("global")
	if !strings.Contains(buf.String(), `"message":"global"`) {
		t.Errorf("global fallback not used: %s", buf.String())
	}
}
