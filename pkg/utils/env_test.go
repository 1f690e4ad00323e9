package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnvFallbacks(t *testing.T) {
	t.Setenv("RL_TEST_INT", "nope")
	t.Setenv("RL_TEST_DUR", "-1s")
	t.Setenv("RL_TEST_BOOL", "true")
	t.Setenv("RL_TEST_INT64", "0")

	require.Equal(t, 7, EnvInt("RL_TEST_INT", 7))
	require.Equal(t, time.Second, EnvDuration("RL_TEST_DUR", time.Second))
	require.True(t, EnvBool("RL_TEST_BOOL", false))
	require.Equal(t, int64(0), EnvInt64("RL_TEST_INT64", 10))
	require.Equal(t, "fallback", Env("RL_TEST_UNSET", "fallback"))
}

func TestSplitCSV(t *testing.T) {
	require.Equal(t, []string{"a:9092", "b:9092"}, SplitCSV(" a:9092, ,b:9092,a:9092"))
	require.Empty(t, SplitCSV(""))
}

func TestHashOrRead(t *testing.T) {
	t.Setenv("BCRYPT_COST", "4")
	hashed, err := HashOrRead("secret")
	require.NoError(t, err)
	require.NotEqual(t, "secret", string(hashed))

	again, err := HashOrRead(string(hashed))
	require.NoError(t, err)
	require.Equal(t, hashed, again)
}
