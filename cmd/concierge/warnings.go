package main

import (
	"log"

	"github.com/yejikwon7/multi-agent/internal/config"
)

// logConfigWarnings reports configurations that run but silently drop alerts.
func logConfigWarnings(cfg *config.Config) {
	if !cfg.SchedulerEnabled {
		log.Println("concierge: INFO: SCHEDULER_ENABLED=false; departure alerts will be reported as skipped")
	} else {
		switch cfg.SchedulerBackend {
		case config.BackendLocal:
			if cfg.NotifyWebhookURL == "" {
				log.Println("concierge: WARNING [P0]: SCHEDULER_BACKEND=local without NOTIFY_WEBHOOK_URL; alerts will be skipped")
			} else if cfg.NotifyWebhookSecret == "" {
				log.Println("concierge: WARNING [P1]: NOTIFY_WEBHOOK_SECRET not set; notification requests are unsigned")
			}
			log.Println("concierge: INFO: SCHEDULER_BACKEND=local keeps pending alerts in memory; they are lost on restart")
			if !cfg.ReconcileEnabled {
				log.Println("concierge: INFO: RECONCILE_ENABLED=false; alerts whose emit fails are not retried")
			}
		default:
			if cfg.TargetARN == "" || cfg.RoleARN == "" {
				log.Println("concierge: WARNING [P0]: SCHEDULER_TARGET_ARN or SCHEDULER_ROLE_ARN not set; alerts will be skipped")
			}
		}
		if cfg.RecipientEmail == "" {
			log.Println("concierge: INFO: ALERT_RECIPIENT_EMAIL not set; recipient is taken from the profile stage")
		}
	}

	if !cfg.MetricsEnabled {
		log.Println("concierge: WARNING [P1]: METRICS_ENABLED=false; registration failures are only visible in logs")
	}
}
