package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type PoolStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
	// EmptyAcquires counts acquires that had to wait for a connection.
	EmptyAcquires int64 `json:"empty_acquires"`
	Saturated     bool  `json:"saturated"`
}

func statsOf(s *pgxpool.Stat) PoolStats {
	return PoolStats{
		TotalConns:    s.TotalConns(),
		IdleConns:     s.IdleConns(),
		AcquiredConns: s.AcquiredConns(),
		MaxConns:      s.MaxConns(),
		EmptyAcquires: s.EmptyAcquireCount(),
		Saturated:     s.MaxConns() > 0 && s.AcquiredConns() >= s.MaxConns(),
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler pings the database and reports pool usage. A saturated pool
// is still healthy; tenant requests queue behind it.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return healthHandler(pool, func() PoolStats { return statsOf(pool.Stat()) })
}

func healthHandler(p pinger, stats func() PoolStats) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unavailable",
				"detail": err.Error(),
				"pool":   stats(),
			})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "ok",
			"pool":   stats(),
		})
	}
}
