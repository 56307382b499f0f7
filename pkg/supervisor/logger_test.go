package supervisor

import (
	"testing"

	"github.com/dapi-tools/portal-supervisor/pkg/logging"
)

func newTestLogger(t *testing.T) logging.Logger {
	return logging.NewLogger("", logging.LogFuncs{
		Debugf: t.Logf,
		Infof:  t.Logf,
		Warnf:  t.Logf,
		Errorf: t.Logf,
	})
}
