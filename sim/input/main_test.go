package input

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
)

// TestMain keeps runs quiet below errors, since many tests trip warnings on
// purpose. CYCSIM_TEST_LOG=debug (any logrus level) restores the output.
func TestMain(m *testing.M) {
	level := logrus.ErrorLevel
	if v := os.Getenv("CYCSIM_TEST_LOG"); v != "" {
		if parsed, err := logrus.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	logrus.SetLevel(level)
	os.Exit(m.Run())
}
