package integration

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/dkomarov/tokend/internal/handlers"
	"github.com/dkomarov/tokend/internal/logger"
	"github.com/dkomarov/tokend/internal/repository/postgres"
	"github.com/dkomarov/tokend/internal/service/auth"
	"github.com/dkomarov/tokend/internal/service/auth/tokenmanager"
	"github.com/dkomarov/tokend/internal/testutil"
)

type Services struct {
	AuthService *auth.AuthService
	Engine      *auth.RotationEngine
}

// Create db transaction and run server with that connection (one connection cause one transaction)
// The created transaction passed to inner function: so, you can safely use testutil.WithTx with it
func ServeWithTx(dbpool *pgxpool.Pool, t *testing.T, fn func(tx pgx.Tx, srvURL string, services Services)) {
	testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
		// Initialize repositories over the test transaction
		storage := postgres.NewStorage(tx)

		// Initialize services
		encoder, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret"})
		require.NoError(t, err, "token manager should be created without errors")

		engine, err := auth.NewRotationEngine(
			auth.RotationConfig{RefreshTTL: 24 * time.Hour},
			encoder,
			storage.Refresh(),
		)
		require.NoError(t, err, "rotation engine should be created without errors")

		as, err := auth.NewService(auth.Config{}, engine, storage)
		require.NoError(t, err, "auth service starting error")

		// Complete all together as router
		router := handlers.NewRouter(as, logger.NewNoOpLogger())

		// Run http server with the router in transaction
		srv := httptest.NewServer(router)
		defer srv.Close()

		fn(tx, srv.URL, Services{
			AuthService: as,
			Engine:      engine,
		})
	})
}
