package printer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mrarejimmyz/zkvanguard/pkg/ledger"
)

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title when including suggestions", func(t *testing.T) {
		err := Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title for multiple suggestions", func(t *testing.T) {
		err := Error("Test Error", "Explanation", []string{
			"First option",
			"Second option",
		})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})
}

func TestErrorWithContext(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		context := map[string]string{
			"Execution": "7a9f0f6e",
			"Instance":  "vanguard-prod",
		}
		err := ErrorWithContext("Test Error", "Explanation", context, []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title when including suggestions", func(t *testing.T) {
		context := map[string]string{"Key": "Value"}
		err := ErrorWithContext("Test Error", "Explanation", context, []string{"Fix it"})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})
}

func TestResult(t *testing.T) {
	require.Contains(t, Result(ledger.ResultSuccess), "success")
	require.Contains(t, Result(ledger.ResultFailed), "failed")
	require.Contains(t, Result(ledger.ResultPending), "pending")
	require.Contains(t, Result(ledger.ResultRolledBack), "rolled_back")
}

func TestBreaker(t *testing.T) {
	require.Contains(t, Breaker(false, ""), "closed")
	require.Contains(t, Breaker(true, ""), "OPEN")
	require.Contains(t, Breaker(true, "3 consecutive failures"), "3 consecutive failures")
}

// Note: The Error and ErrorWithContext functions print formatted output to stderr
// with colors. The error object returned only contains the title for Cobra's error handling.
// This is intentional to avoid duplicate output while providing rich formatted errors.
