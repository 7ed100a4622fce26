package factory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type threshold struct {
	Pct      float64       `json:"pct"`
	Cooldown time.Duration `json:"cooldown"`
	Kinds    []string      `json:"kinds"`
}

func thresholdRegistry(t *testing.T) *Registry[*threshold] {
	t.Helper()
	reg := NewRegistry[*threshold]()
	require.NoError(t, reg.Register("threshold", func(conf map[string]any) (*threshold, error) {
		var c threshold
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		return &c, nil
	}))
	return reg
}

func TestRegistry_Create(t *testing.T) {
	reg := thresholdRegistry(t)
	inst, err := reg.Create(ModuleConfig{Type: "threshold", Conf: map[string]any{
		"pct":      "12.5",
		"cooldown": "30m",
		"kinds":    "low,critical",
	}})
	require.NoError(t, err)
	assert.Equal(t, 12.5, inst.Pct)
	assert.Equal(t, 30*time.Minute, inst.Cooldown)
	assert.Equal(t, []string{"low", "critical"}, inst.Kinds)
}

func TestRegistry_Errors(t *testing.T) {
	reg := thresholdRegistry(t)
	assert.Error(t, reg.Register("threshold", func(map[string]any) (*threshold, error) { return nil, nil }))
	assert.Error(t, reg.Register("empty", nil))

	_, err := reg.Create(ModuleConfig{Type: "sms"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "known: [threshold]")
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	var c threshold
	err := Decode(map[string]any{"pct": 10, "cooldwn": "1m"}, &c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cooldwn")
}

func TestCreateAll(t *testing.T) {
	reg := thresholdRegistry(t)
	out, err := reg.CreateAll([]ModuleConfig{
		{Type: "threshold", Conf: map[string]any{"pct": 20}},
		{Type: "threshold", Conf: map[string]any{"pct": 5}},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 5.0, out[1].Pct)

	_, err = reg.CreateAll([]ModuleConfig{{Type: "threshold"}, {Type: "sms"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "module 1 (sms)")

	out, err = reg.CreateAll(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestNamesSorted(t *testing.T) {
	reg := NewRegistry[int]()
	require.NoError(t, reg.Register("redis", func(map[string]any) (int, error) { return 0, nil }))
	require.NoError(t, reg.Register("log", func(map[string]any) (int, error) { return 0, nil }))
	assert.Equal(t, []string{"log", "redis"}, reg.Names())
}
