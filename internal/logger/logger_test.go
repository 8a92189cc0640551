package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestBuild_JSONFieldsAndComponent(t *testing.T) {
	is := is.New(t)

	var buf bytes.Buffer
	l := Build(Config{Level: "info", Component: "testcomp"}, &buf)
	l.Info().Str("k", "v").Msg("hello")

	var rec map[string]any
	is.NoErr(json.Unmarshal(buf.Bytes(), &rec))
	is.Equal(rec["msg"], "hello")
	is.Equal(rec["component"], "testcomp")
	is.Equal(rec["k"], "v")
	is.True(rec["timestamp"] != nil)
}

func TestBuild_LevelFiltering(t *testing.T) {
	is := is.New(t)

	var buf bytes.Buffer
	l := Build(Config{Level: "warn"}, &buf)
	l.Info().Msg("dropped")
	l.Warn().Msg("kept")

	is.True(!strings.Contains(buf.String(), "dropped"))
	is.True(strings.Contains(buf.String(), "kept"))
}

func TestFromContext_AttachesRequestID(t *testing.T) {
	is := is.New(t)

	var buf bytes.Buffer
	base := Build(Config{Level: "debug"}, &buf)

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = WithComponent(ctx, "http")
	FromContext(ctx, &base).Info().Msg("tagged")

	var rec map[string]any
	is.NoErr(json.Unmarshal(buf.Bytes(), &rec))
	is.Equal(rec["request_id"], "req-123")
	is.Equal(rec["component"], "http")
}

func TestNewID_UniqueAndHex(t *testing.T) {
	is := is.New(t)

	a, b := NewID(), NewID()
	is.Equal(len(a), 16)
	is.True(a != b)
}
