package llm_test

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// net/http keeps idle connection readers around after httptest servers close.
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}
