package purchasing

import (
	"fmt"
	"testing"

	"trattoria-backend/internal/database/dbtest"

	"github.com/stretchr/testify/require"
)

func TestConcurrentCreatesOnPostgres(t *testing.T) {
	f := newFixtureOn(t, dbtest.Postgres(t))

	const n = 8
	numbers := createConcurrently(t, f, n)
	want := make([]string, n)
	for i := range want {
		want[i] = fmt.Sprintf("ORD-202501-%03d", i+1)
	}
	require.Equal(t, want, numbers)

	drifted, err := VerifyAll(f.db)
	require.NoError(t, err)
	require.Empty(t, drifted)
}
