package usecase

import (
	"context"

	"github.com/samber/lo"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// MonitoringService is the query and control facade served to operators.
type MonitoringService struct {
	explorer      JobExplorer
	operator      JobOperator
	jobRepository repository.JobRepository
}

// NewMonitoringService creates a MonitoringService.
func NewMonitoringService(explorer JobExplorer, operator JobOperator, repo repository.JobRepository) *MonitoringService {
	return &MonitoringService{explorer: explorer, operator: operator, jobRepository: repo}
}

// ToSummary projects a JobExecution.
func ToSummary(je *model.JobExecution) JobExecutionSummary {
	s := JobExecutionSummary{
		ExecutionID: je.ID,
		JobName:     je.JobName,
		Status:      je.Status,
		ExitStatus:  je.ExitStatus,
		StartTime:   je.StartTime,
		EndTime:     je.EndTime,
		Failures:    je.Failures,
	}
	if je.EndTime != nil {
		s.Duration = je.Duration().String()
	}
	return s
}

func toSummaries(executions []*model.JobExecution) []JobExecutionSummary {
	return lo.Map(executions, func(je *model.JobExecution, _ int) JobExecutionSummary {
		return ToSummary(je)
	})
}

// GetRecentJobExecutions returns up to count summaries, newest first.
func (m *MonitoringService) GetRecentJobExecutions(ctx context.Context, count int) ([]JobExecutionSummary, error) {
	executions, err := m.explorer.GetRecentJobExecutions(ctx, count)
	if err != nil {
		return nil, err
	}
	return toSummaries(executions), nil
}

// GetJobExecution returns the summary of one execution.
func (m *MonitoringService) GetJobExecution(ctx context.Context, executionID string) (JobExecutionSummary, error) {
	je, err := m.explorer.GetJobExecution(ctx, executionID)
	if err != nil {
		return JobExecutionSummary{}, err
	}
	return ToSummary(je), nil
}

// GetJobExecutionsByName returns up to count summaries of a job, newest first.
func (m *MonitoringService) GetJobExecutionsByName(ctx context.Context, jobName string, count int) ([]JobExecutionSummary, error) {
	executions, err := m.explorer.GetJobExecutionsByJobName(ctx, jobName, count)
	if err != nil {
		return nil, err
	}
	return toSummaries(executions), nil
}

// GetRunningJobExecutions returns the summaries of non-terminal executions.
func (m *MonitoringService) GetRunningJobExecutions(ctx context.Context) ([]JobExecutionSummary, error) {
	executions, err := m.explorer.GetRunningJobExecutions(ctx)
	if err != nil {
		return nil, err
	}
	return toSummaries(executions), nil
}

// StopJobExecution asks a running execution to stop.
func (m *MonitoringService) StopJobExecution(ctx context.Context, executionID string) (bool, error) {
	return m.operator.Stop(ctx, executionID)
}

// RestartJobExecution restarts a FAILED or STOPPED execution.
func (m *MonitoringService) RestartJobExecution(ctx context.Context, executionID string) (JobExecutionSummary, error) {
	je, err := m.operator.Restart(ctx, executionID)
	if err != nil {
		return JobExecutionSummary{}, err
	}
	return ToSummary(je), nil
}

// GetBatchStatistics counts known jobs and running executions.
func (m *MonitoringService) GetBatchStatistics(ctx context.Context) (BatchStats, error) {
	names, err := m.explorer.GetJobNames(ctx)
	if err != nil {
		return BatchStats{}, err
	}
	running, err := m.explorer.GetRunningJobExecutions(ctx)
	if err != nil {
		return BatchStats{}, err
	}
	return BatchStats{TotalJobs: len(names), RunningJobs: len(running)}, nil
}

// GetJobStatistics counts the executions of a job by outcome. Unknown jobs yield zero counts.
func (m *MonitoringService) GetJobStatistics(ctx context.Context, jobName string) (JobStats, error) {
	stats := JobStats{JobName: jobName}
	var err error
	if stats.TotalExecutions, err = m.jobRepository.CountJobExecutions(ctx, jobName); err != nil {
		return stats, err
	}
	if stats.SuccessfulExecutions, err = m.jobRepository.CountJobExecutions(ctx, jobName, model.BatchStatusCompleted); err != nil {
		return stats, err
	}
	if stats.FailedExecutions, err = m.jobRepository.CountJobExecutions(ctx, jobName, model.BatchStatusFailed); err != nil {
		return stats, err
	}
	logger.Debugf("Monitoring: Job '%s' statistics: %+v", jobName, stats)
	return stats, nil
}
