package di

import (
	"context"
	"fmt"

	"github.com/aristath/arena/internal/clients/storage"
	"github.com/aristath/arena/internal/config"
	"github.com/aristath/arena/internal/reliability"
	"github.com/aristath/arena/internal/scheduler"
	"github.com/rs/zerolog"
)

// JobInstances holds the registered jobs for manual triggering
type JobInstances struct {
	Reconcile      *scheduler.ReconcileExecutionsJob
	Providers      *scheduler.RefreshProvidersJob
	ChainEvents    *scheduler.ChainEventsJob
	CheckDatabases *scheduler.CheckDatabasesJob
	Backup         *reliability.BackupJob // nil when backups are disabled
}

type scheduledJob struct {
	schedule string
	job      scheduler.Job
}

// RegisterJobs creates the background jobs and adds them to sched
func RegisterJobs(ctx context.Context, container *Container, sched *scheduler.Scheduler, cfg *config.Config, version string, log zerolog.Logger) (*JobInstances, error) {
	if container == nil || container.Sessions == nil || container.Chain == nil {
		return nil, fmt.Errorf("container is not initialized")
	}

	cursor, err := latestEventID(ctx, container.Chain)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain event cursor: %w", err)
	}

	instances := &JobInstances{
		Reconcile:      scheduler.NewReconcileExecutionsJob(container.Sessions, log),
		Providers:      scheduler.NewRefreshProvidersJob(container.Sessions, container.EventManager, log),
		ChainEvents:    scheduler.NewChainEventsJob(container.Chain, container.EventManager, cursor, log),
		CheckDatabases: scheduler.NewCheckDatabasesJob(log, container.Databases()...),
	}

	jobs := []scheduledJob{
		{cfg.Jobs.ReconcileSchedule, instances.Reconcile},
		{cfg.Jobs.ProvidersSchedule, instances.Providers},
		{cfg.Jobs.EventsSchedule, instances.ChainEvents},
		{cfg.Jobs.WALSchedule, instances.CheckDatabases},
	}

	if cfg.BackupsEnabled() {
		backup, err := newBackupJob(ctx, container, cfg, version, log)
		if err != nil {
			return nil, err
		}
		instances.Backup = backup
		jobs = append(jobs, scheduledJob{cfg.Jobs.BackupSchedule, backup})
	}

	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			return nil, err
		}
	}

	log.Info().Int("jobs", len(jobs)).Int64("event_cursor", cursor).Msg("Jobs registered")
	return instances, nil
}

func newBackupJob(ctx context.Context, container *Container, cfg *config.Config, version string, log zerolog.Logger) (*reliability.BackupJob, error) {
	client, err := storage.NewS3Client(ctx, storage.S3Config{
		Bucket:    cfg.Storage.S3Bucket,
		Region:    cfg.Storage.S3Region,
		Endpoint:  cfg.Storage.S3Endpoint,
		AccessKey: cfg.Storage.S3AccessKey,
		SecretKey: cfg.Storage.S3SecretKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create backup client: %w", err)
	}
	svc := reliability.NewBackupService(client, cfg.Storage.S3Bucket, cfg.Storage.S3Prefix+"backups/",
		cfg.DataDir, version, container.Databases(), log)
	return reliability.NewBackupJob(svc, cfg.Jobs.BackupRetentionDays, log), nil
}

// latestEventID pages to the newest event so a restart does not replay history
func latestEventID(ctx context.Context, source scheduler.EventSource) (int64, error) {
	const page = 500
	var cursor int64
	for {
		evs, err := source.Events(ctx, cursor, page)
		if err != nil {
			return 0, err
		}
		if len(evs) > 0 {
			cursor = evs[len(evs)-1].ID
		}
		if len(evs) < page {
			return cursor, nil
		}
	}
}
