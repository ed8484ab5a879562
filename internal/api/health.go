package api

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	chunkKafka "github.com/tigerroll/chunkflow/pkg/batch/adapter/messaging/kafka"
	"github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
)

// Health states.
const (
	StatusUp   = "UP"
	StatusDown = "DOWN"
)

const healthTimeout = 3 * time.Second

// ComponentHealth is the state of one dependency.
type ComponentHealth struct {
	Status  string                 `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthReport aggregates the component states. It is UP only when every component is.
type HealthReport struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
}

// Pinger checks that the brokers accept connections.
type Pinger func(ctx context.Context, brokers []string) error

// HealthChecker probes the database, the bus and the batch engine.
type HealthChecker struct {
	db       *gorm.DB
	brokers  []string
	ping     Pinger
	explorer usecase.JobExplorer
}

// NewHealthChecker creates a HealthChecker. ping defaults to a broker dial.
func NewHealthChecker(db *gorm.DB, brokers []string, explorer usecase.JobExplorer, ping Pinger) *HealthChecker {
	if ping == nil {
		ping = chunkKafka.Ping
	}
	return &HealthChecker{db: db, brokers: brokers, ping: ping, explorer: explorer}
}

// Check runs every probe.
func (c *HealthChecker) Check(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	report := HealthReport{Status: StatusUp, Components: map[string]ComponentHealth{
		"db":    c.database(ctx),
		"kafka": c.kafka(ctx),
		"batch": c.batch(ctx),
	}}
	for _, component := range report.Components {
		if component.Status != StatusUp {
			report.Status = StatusDown
		}
	}
	return report
}

func (c *HealthChecker) database(ctx context.Context) ComponentHealth {
	sqlDB, err := c.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		return down(err)
	}
	return ComponentHealth{Status: StatusUp, Details: map[string]interface{}{"database": c.db.Dialector.Name()}}
}

func (c *HealthChecker) kafka(ctx context.Context) ComponentHealth {
	if err := c.ping(ctx, c.brokers); err != nil {
		return down(err)
	}
	return ComponentHealth{Status: StatusUp, Details: map[string]interface{}{"brokers": c.brokers}}
}

func (c *HealthChecker) batch(ctx context.Context) ComponentHealth {
	running, err := c.explorer.GetRunningJobExecutions(ctx)
	if err != nil {
		return down(err)
	}
	return ComponentHealth{Status: StatusUp, Details: map[string]interface{}{"runningJobs": len(running)}}
}

func down(err error) ComponentHealth {
	return ComponentHealth{Status: StatusDown, Details: map[string]interface{}{"error": fmt.Sprint(err)}}
}
