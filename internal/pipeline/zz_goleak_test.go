package pipeline

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// database/sql keeps a connection opener goroutine per *sql.DB until Close.
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}
