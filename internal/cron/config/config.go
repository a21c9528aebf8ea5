package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Fail requests stuck in processing, every minute
	CronScheduleStaleRequests string `env:"CRON_SCHEDULE_STALE_REQUESTS" envDefault:"30 * * * * *"`
	// Republish completed requests whose handoff failed, every 5 minutes
	CronScheduleHandoffRetry string `env:"CRON_SCHEDULE_HANDOFF_RETRY" envDefault:"0 */5 * * * *"`
	// Batch size for the sweep and retry jobs
	CronBatchSize int `env:"CRON_BATCH_SIZE" envDefault:"100"`
}
