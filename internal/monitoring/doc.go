// Package monitoring provides alerting, automatic error recovery, and
// metrics export for the decision engines.
//
// Three cooperating pieces:
//
//  1. AlertManager (alerts.go, notifiers.go):
//     - rule-driven alerts over metrics snapshots (CPU, memory, disk,
//       temperature, mining health)
//     - at most one active alert per rule; resolution is detected by a
//       reconcile pass and notified exactly once
//     - pluggable notification channels (email, webhook, Slack-style)
//
//  2. RecoveryManager (recovery.go):
//     - records reported errors in a bounded ring with captured stacks
//     - runs registered recovery actions per component, falling back to
//       general actions, stopping at the first success
//     - actions carry per-action cooldowns and a permanent max-attempts
//       budget; a health loop feeds errors from snapshot flags
//
//  3. Exporter (prometheus.go):
//     - Prometheus registry with system/mining gauges and event counters
//     - implements common.EventSink so engine events become counters
//
// Usage:
//
//	alerts, _ := monitoring.NewAlertManager(logger, monitoring.DefaultAlertConfig(),
//		collector.Snapshot, monitoring.WithNotifiers(notifiers...))
//	alerts.Start()
//
//	recovery, _ := monitoring.NewRecoveryManager(logger, monitoring.DefaultRecoveryConfig(),
//		collector.Snapshot)
//	recovery.Register("miner", monitoring.RestartMinerAction(miner))
//	recovery.Start()
package monitoring
