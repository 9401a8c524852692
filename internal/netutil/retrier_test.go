package netutil

import (
	"context"
	"errors"
	stdlog "log"
	"os"
	"testing"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	loggingLevel, ok := os.LookupEnv("TEST_LOGGING_LEVEL")
	if ok {
		lvl, err := logging.LevelFromString(loggingLevel)
		if err != nil {
			stdlog.Fatal(err)
		}
		logging.SetLevel(lvl)
	} else {
		logging.Disable()
	}

	os.Exit(m.Run())
}

func TestRetrierSucceedsAfterFailures(t *testing.T) {
	r := NewRetrier(time.Millisecond, 0, 1)

	attempts := 0
	err := r.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetrierThreshold(t *testing.T) {
	r := NewRetrier(time.Millisecond, 20*time.Millisecond, 1)

	err := r.Do(context.Background(), func() error {
		return errors.New("never succeeds")
	})
	assert.Equal(t, ErrThresholdReached, err)
}

func TestRetrierContextCancel(t *testing.T) {
	r := NewRetrier(10*time.Millisecond, 0, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, func() error {
		return errors.New("never succeeds")
	})
	assert.Equal(t, context.Canceled, err)
}

func TestRetrierErrWhitelist(t *testing.T) {
	fatal := errors.New("fatal")
	r := NewRetrier(time.Millisecond, 0, 1).WithErrWhitelist(fatal)

	attempts := 0
	err := r.Do(context.Background(), func() error {
		attempts++
		return fatal
	})
	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, attempts)
}
