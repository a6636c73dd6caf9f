package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitFallsBackToInfo(t *testing.T) {
	Init("verbose", "json")
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())

	Init("debug", "text")
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	Init("info", "json")
}

func TestContextRoundTrip(t *testing.T) {
	entry := logrus.WithField("request_id", "abc")
	ctx := ToContext(context.Background(), entry)
	assert.Equal(t, "abc", FromContext(ctx).Data["request_id"])
	assert.NotNil(t, FromContext(context.Background()))
}

func TestWatermillAdapterKeepsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	adapter := NewWatermill(logrus.NewEntry(logger)).With(watermill.LogFields{"topic": "notify"})
	adapter.Info("published", watermill.LogFields{"uuid": "1"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "notify", line["topic"])
	assert.Equal(t, "1", line["uuid"])
	assert.Equal(t, "published", line["msg"])
}
