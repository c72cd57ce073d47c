package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tariff/pkg/storage"
)

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{"postgres://a", []string{"postgres://a"}},
		{" postgres://a , ,postgres://b ", []string{"postgres://a", "postgres://b"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseReplicaURLs(tt.input), tt.input)
	}
}

func TestConnectionConfigFrom(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.PostgresURL = "postgres://primary"
	cfg.PostgresReplicaURLs = "postgres://r1,postgres://r2"

	conn := ConnectionConfigFrom(cfg)
	assert.Equal(t, "postgres://primary", conn.PrimaryURL)
	assert.Len(t, conn.ReplicaURLs, 2)
	assert.Equal(t, 20, conn.MaxConns)
}

func TestConnectionManager_ReplicaFallsBackToPrimary(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cm := NewConnectionManagerFromDB(db, nil)
	assert.Same(t, db, cm.Primary())
	assert.Same(t, db, cm.Replica())
}

func TestConnectionManager_HealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	cm := NewConnectionManagerFromDB(db, nil)

	mock.ExpectPing()
	assert.NoError(t, cm.HealthCheck(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.Error(t, cm.HealthCheck(context.Background()))
}

func TestNewConnectionManager_UnreachablePrimary(t *testing.T) {
	_, err := NewConnectionManager(ConnectionConfig{
		PrimaryURL: "postgres://tariff@127.0.0.1:1/tariff?sslmode=disable&connect_timeout=1",
		MaxConns:   2,
	}, nil)
	assert.Error(t, err)
}
