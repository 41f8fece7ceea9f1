package config

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stockledger/stock"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 120, cfg.RateLimit)
	assert.False(t, cfg.CacheEnabled())
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:8080"}, cfg.AllowedOrigins)

	eps, err := cfg.EpsilonValue()
	require.NoError(t, err)
	assert.True(t, stock.DefaultEpsilon.Equal(eps))
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("STOCKLEDGER_DB_DRIVER", "mysql")
	t.Setenv("STOCKLEDGER_MYSQL_HOST", "db.internal")
	t.Setenv("STOCKLEDGER_MYSQL_PORT", "3307")
	t.Setenv("STOCKLEDGER_REDIS_ADDR", "localhost:6379")
	t.Setenv("STOCKLEDGER_EPSILON", "0.01")
	t.Setenv("STOCKLEDGER_CLASSIFICATION", "Damage:Wastage,Repack:Adjustment Out")
	t.Setenv("STOCKLEDGER_SCHEDULE_ITEMS", "RICE,SUGAR")
	t.Setenv("STOCKLEDGER_SCHEDULE_INTERVAL", "15m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.MySQL().Host)
	assert.Equal(t, 3307, cfg.MySQL().Port)
	assert.True(t, cfg.CacheEnabled())
	assert.Equal(t, []string{"RICE", "SUGAR"}, cfg.ScheduleItems)
	assert.Equal(t, 15*time.Minute, cfg.ScheduleInterval)

	classifier, err := cfg.Classifier()
	require.NoError(t, err)
	cls, ok := classifier.Classify("Damage")
	require.True(t, ok)
	assert.Equal(t, stock.TypeWastage, cls.Type)
	cls, ok = classifier.Classify("Repack")
	require.True(t, ok)
	assert.Equal(t, stock.TypeAdjOut, cls.Type)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := &Config{
		DBDriver:       "postgres",
		Epsilon:        "-1",
		Classification: map[string]string{"Damage": "Broken"},
		RateLimit:      -1,
	}

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "db driver")
	assert.Contains(t, err.Error(), "epsilon")
	assert.True(t, errors.Is(err, stock.ErrUnknownType))
	assert.Contains(t, err.Error(), "rate limit")
}

func TestValidate_ScheduleNeedsInterval(t *testing.T) {
	cfg := &Config{DBDriver: "memory", Epsilon: "0.001", ScheduleItems: []string{"RICE"}}

	assert.ErrorContains(t, cfg.Validate(), "schedule interval")
}

func TestNewLogger_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogLevel: "warn", LogFormat: "json"}, &buf)

	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	LogError(logger, "stock", "Reconcile", "RICE", map[string]int{"events": 3}, errors.New("boom"))
	assert.Contains(t, buf.String(), `"funcName":"Reconcile"`)
	assert.Contains(t, buf.String(), `"msg":"boom"`)
}

func TestNewLogger_UnknownLevel_FallsBackToInfo(t *testing.T) {
	logger := newLogger(&Config{LogLevel: "loud", LogFormat: "text"}, &bytes.Buffer{})

	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	_, isText := logger.Formatter.(*logrus.TextFormatter)
	assert.True(t, isText)
}
