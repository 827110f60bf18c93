package middleware

import (
	"os"
	"testing"

	"github.com/routedesk/routedesk/internal/auth"
)

func TestMain(m *testing.M) {
	os.Setenv(auth.SecretEnv, "test-jwt-secret-that-is-32-chars!!")
	os.Exit(m.Run())
}
