package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// PrometheusHandler 以 Prometheus 文本格式输出指标，挂载于 /metrics
func (m *Monitor) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(m.metrics.StartTime).Seconds()

		lines := []struct {
			name string
			help string
			typ  string
			val  interface{}
		}{
			// Inbound messages
			{"wagent_messages_received_total", "Inbound messages accepted by the webhook", "counter", atomic.LoadUint64(&m.metrics.MessagesReceived)},
			{"wagent_messages_duplicate_total", "Inbound messages rejected as duplicates", "counter", atomic.LoadUint64(&m.metrics.MessagesDuplicate)},
			{"wagent_messages_dropped_total", "Inbound messages ignored by routing rules", "counter", atomic.LoadUint64(&m.metrics.MessagesDropped)},

			// Answers
			{"wagent_answers_total", "Answers generated and sent", "counter", atomic.LoadUint64(&m.metrics.AnswersTotal)},
			{"wagent_answers_failed_total", "Answer attempts that failed", "counter", atomic.LoadUint64(&m.metrics.AnswersFailed)},
			{"wagent_send_failures_total", "Outbound sends rejected by the messaging provider", "counter", atomic.LoadUint64(&m.metrics.SendFailures)},

			// Jobs
			{"wagent_jobs_enqueued_total", "Media jobs enqueued", "counter", atomic.LoadUint64(&m.metrics.JobsEnqueued)},
			{"wagent_jobs_completed_total", "Media jobs completed", "counter", atomic.LoadUint64(&m.metrics.JobsCompleted)},
			{"wagent_jobs_failed_total", "Media jobs failed", "counter", atomic.LoadUint64(&m.metrics.JobsFailed)},
			{"wagent_jobs_timed_out_total", "Media jobs reclaimed after timeout", "counter", atomic.LoadUint64(&m.metrics.JobsTimedOut)},

			// Model
			{"wagent_model_calls_total", "Total LLM generation calls", "counter", atomic.LoadUint64(&m.metrics.ModelCallsTotal)},
			{"wagent_model_tokens_used_total", "Total tokens consumed", "counter", atomic.LoadUint64(&m.metrics.ModelTokensUsed)},

			// Gauges
			{"wagent_sessions_created_total", "Sessions opened", "counter", atomic.LoadUint64(&m.metrics.SessionsCreated)},
			{"wagent_active_sessions", "Number of active sessions", "gauge", atomic.LoadInt64(&m.metrics.ActiveSessions)},
			{"wagent_answer_queue_depth", "Messages waiting for an answer worker", "gauge", atomic.LoadInt64(&m.metrics.QueueDepth)},
			{"wagent_events_dropped_total", "Domain events dropped by the event bus", "counter", atomic.LoadInt64(&m.metrics.EventsDropped)},
			{"wagent_uptime_seconds", "Process uptime in seconds", "gauge", uptime},

			// Runtime
			{"wagent_memory_alloc_bytes", "Current memory allocation in bytes", "gauge", memStats.Alloc},
			{"wagent_memory_sys_bytes", "Total memory obtained from OS", "gauge", memStats.Sys},
			{"wagent_goroutines", "Number of goroutines", "gauge", runtime.NumGoroutine()},
			{"wagent_gc_cycles_total", "Total number of completed GC cycles", "counter", memStats.NumGC},
		}

		for _, l := range lines {
			fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.typ)
			switch v := l.val.(type) {
			case uint64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case float64:
				fmt.Fprintf(w, "%s %f\n", l.name, v)
			case uint32:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			}
			fmt.Fprintln(w)
		}

		if atomic.LoadUint64(&m.metrics.AnswerLatencyCount) > 0 {
			fmt.Fprintf(w, "# HELP wagent_answer_latency_avg_ms Average answer latency in milliseconds\n")
			fmt.Fprintf(w, "# TYPE wagent_answer_latency_avg_ms gauge\n")
			fmt.Fprintf(w, "wagent_answer_latency_avg_ms %f\n\n", m.avgAnswerMs())
		}
	})
}
